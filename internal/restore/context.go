package restore

// Context threads identifiers generated by earlier pipeline stages to
// later ones. Each stage only reads what strictly earlier stages
// produced; nothing is recomputed after being set.
type Context struct {
	// Stage 1 (preflight)
	HasCode  bool // the backup carries a code tree
	OwnerUID int  // primary user ownership, inferred from the backup's home
	OwnerGID int

	// Stage 4 (encryption setup)
	LUKSUUID string // UUID of the LUKS header on the root partition
	Mapper   string // mapper name, derived from LUKSUUID

	// Stage 5 (filesystem creation)
	RootUUID string // filesystem UUID of the decrypted BTRFS volume

	// Stage 7 (mounting)
	BootUUID string
	EFIUUID  string
}
