package deb

// ControlField represents a standard field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldVersion       ControlField = "Version"
	FieldSection       ControlField = "Section"
	FieldPriority      ControlField = "Priority"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldUrgency       ControlField = "Urgency"
	FieldInstalledSize ControlField = "Installed-Size"
	FieldHomepage      ControlField = "Homepage"
	FieldEssential     ControlField = "Essential"
	FieldDepends       ControlField = "Depends"
	FieldDescription   ControlField = "Description"
	FieldRecommends    ControlField = "Recommends"
	FieldSuggests      ControlField = "Suggests"
)

// ControlFile represents a standard file found in the control.tar.gz archive.
type ControlFile string

const (
	FileControl  ControlFile = "control"
	FileMd5sums  ControlFile = "md5sums"
	FilePreinst  ControlFile = "preinst"
	FilePostinst ControlFile = "postinst"
	FilePrerm    ControlFile = "prerm"
	FilePostrm   ControlFile = "postrm"
)

// PackageFile represents a standard file found in the .deb archive (ar format).
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTarGz PackageFile = "control.tar.gz"
	PkgDataTarGz    PackageFile = "data.tar.gz"
)

const (
	// DefaultArch is used when a BuildSpec does not name an architecture.
	DefaultArch = "all"
	// DefaultSection is written when a BuildSpec does not name a section.
	DefaultSection = "misc"
	// DefaultDirMode is the mode of synthesized and marker directories.
	DefaultDirMode int64 = 0755

	debianBinary = "2.0\n"

	// arNameMax is the width of the name field of an ar member header.
	arNameMax = 16

	scriptMode int64 = 0755
	fileMode   int64 = 0644
)
