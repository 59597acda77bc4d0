package config

// keyType describes how a configuration value is validated.
type keyType int

const (
	typeString keyType = iota
	typeBool
	typeInt
	typePath
	typeList
)

// keySpec describes one dotted configuration key. Keys marked required
// must be present in every document; keys in an optional section (the
// second backup drive) become required once the section exists.
type keySpec struct {
	name     string
	typ      keyType
	required bool
}

// schema is the full set of recognized keys. Anything outside this list
// is rejected, so a typoed key can never silently disable a safety toggle.
var schema = []keySpec{
	{name: "source.path", typ: typePath, required: true},

	{name: "backup_drive_1.device", typ: typePath, required: true},
	{name: "backup_drive_1.mapper", typ: typeString, required: true},
	{name: "backup_drive_1.mount", typ: typePath, required: true},
	{name: "backup_drive_1.label", typ: typeString},
	{name: "backup_drive_1.compression", typ: typeString},
	{name: "backup_drive_1.auto_mount", typ: typeBool},
	{name: "backup_drive_1.mirror", typ: typeBool},
	{name: "backup_drive_1.folders", typ: typeList},

	{name: "backup_drive_2.device", typ: typePath},
	{name: "backup_drive_2.mapper", typ: typeString},
	{name: "backup_drive_2.mount", typ: typePath},
	{name: "backup_drive_2.label", typ: typeString},
	{name: "backup_drive_2.compression", typ: typeString},
	{name: "backup_drive_2.auto_mount", typ: typeBool},
	{name: "backup_drive_2.mirror", typ: typeBool},
	{name: "backup_drive_2.folders", typ: typeList},

	{name: "snapshots.enabled", typ: typeBool},
	{name: "snapshots.dir", typ: typePath},
	{name: "snapshots.keep", typ: typeInt},

	{name: "rsync.delete", typ: typeBool},
	{name: "rsync.exclude", typ: typeList},
	{name: "rsync.progress", typ: typeBool},

	{name: "logging.dir", typ: typePath},
	{name: "logging.keep", typ: typeInt},

	{name: "safety.lock_file", typ: typePath},
	{name: "safety.space_check", typ: typeBool},
}

// driveSectionKeys are required within a drive section once any key of
// that section is present.
var driveSectionKeys = []string{"device", "mapper", "mount"}
