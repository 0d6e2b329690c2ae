package source

// PkgSource resolves "pkg://" roots against configs bundled alongside a Go
// package. It is constructed with the directory holding the package's
// config tree; PkgSource itself only adds the "pkg" scheme identity and
// delegates everything else to an embedded FileSource. An absent root
// directory simply reports Available() false, so optional plugin packages
// are skipped rather than failing composition.
type PkgSource struct {
	*FileSource
	pkgName string
}

// NewPkgSource returns a PkgSource named pkgName, serving configs from root.
func NewPkgSource(pkgName, root string) *PkgSource {
	return &PkgSource{FileSource: NewFileSource(root), pkgName: pkgName}
}

func (p *PkgSource) Scheme() string { return "pkg" }

// PackageName returns the name this source was constructed with; the
// stratum CLI passes the search-path entry's provider name.
func (p *PkgSource) PackageName() string { return p.pkgName }

var (
	_ ConfigSource = (*PkgSource)(nil)
	_ ConfigSource = (*FileSource)(nil)
	_ ConfigSource = (*StructuredSource)(nil)
)
