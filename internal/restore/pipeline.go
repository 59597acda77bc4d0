package restore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/sebetc4/zimnica/internal/backup"
	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

const (
	targetRoot    = "/mnt/zimnica-restore"
	topLevelMount = "/mnt/zimnica-top"
	rootFSLabel   = "zimnica"

	efiSize  = "+512M"
	bootSize = "+1G"
)

// bindMounts are the live-environment paths bound into the new root
// before the chrooted bootloader installation.
var bindMounts = []string{"/dev", "/proc", "/sys", "/run"}

// Pipeline executes the restore state machine. All operator decisions
// are already resolved in the Plan; Run performs no prompting.
type Pipeline struct {
	source string // mounted backup root, containing root/home/[code]
	log    *ui.Logger
	run    system.Runner
	luks   *volume.LUKSManager
	mounts *volume.MountManager
	btrfs  *volume.BtrfsManager
	insp   *disk.Inspector
	engine *backup.Engine
}

// NewPipeline creates a new pipeline reading from the mounted backup
// at source.
func NewPipeline(source string, log *ui.Logger, run system.Runner,
	luks *volume.LUKSManager, mounts *volume.MountManager,
	btrfs *volume.BtrfsManager, insp *disk.Inspector, engine *backup.Engine) *Pipeline {
	return &Pipeline{
		source: source,
		log:    log,
		run:    run,
		luks:   luks,
		mounts: mounts,
		btrfs:  btrfs,
		insp:   insp,
		engine: engine,
	}
}

// Run drives the ten restore stages. No stage is retried: every
// primitive is either safe to retry manually or too dangerous to retry
// automatically. Teardown is unconditional — a failure in any stage
// still unwinds every mount and mapper opened so far, so the live
// environment is never left with dangling mounts or an exposed
// decrypted volume.
func (p *Pipeline) Run(plan Plan, pass *system.SecureBytes) error {
	cleanup := system.NewCleanupStack()
	defer func() {
		if cleanup.Len() > 0 {
			p.log.Info("Tearing down restore mounts...")
		}
		if cerr := cleanup.Execute(); cerr != nil {
			p.log.Warning("Teardown finished with errors: %v", cerr)
		}
	}()

	ctx := &Context{}

	p.log.Info("Stage 1/10: preliminary checks")
	if err := p.preflight(plan, ctx); err != nil {
		return err
	}

	switch plan.Mode {
	case ModeFullDisk:
		p.log.Info("Stage 2/10: partitioning %s", plan.Disk)
		if err := p.partitionDisk(plan); err != nil {
			return err
		}
	case ModePartitions:
		p.log.Info("Stage 3/10: verifying selected partitions")
		if err := p.verifyPartitions(plan); err != nil {
			return err
		}
	}

	p.log.Info("Stage 4/10: encryption setup on %s", plan.Device(RoleRoot))
	if err := p.encryptRoot(plan, ctx, pass, cleanup); err != nil {
		return err
	}

	p.log.Info("Stage 5/10: creating BTRFS filesystem")
	if err := p.makeFilesystem(ctx); err != nil {
		return err
	}

	p.log.Info("Stage 6/10: subvolume layout")
	if err := p.createSubvolumes(ctx); err != nil {
		return err
	}

	p.log.Info("Stage 7/10: mounting target filesystems")
	if err := p.mountTargets(plan, ctx, cleanup); err != nil {
		return err
	}

	p.log.Info("Stage 8/10: restoring data")
	if err := p.restoreData(ctx); err != nil {
		return err
	}

	p.log.Info("Stage 9/10: boot configuration")
	if err := p.configureBoot(plan, ctx, cleanup); err != nil {
		return err
	}

	p.log.Info("Stage 10/10: teardown")
	p.log.Success("Restore finished; the system on %s is ready to boot", plan.Device(RoleRoot))
	return nil
}

// preflight verifies the target devices exist and the backup source is
// mounted and carries the expected trees. Aborts before anything is
// written otherwise.
func (p *Pipeline) preflight(plan Plan, ctx *Context) error {
	if plan.Mode == ModeFullDisk {
		if !disk.DeviceExists(plan.Disk) {
			return fmt.Errorf("target disk %s does not exist", plan.Disk)
		}
	} else {
		for _, role := range allRoles {
			if !disk.DeviceExists(plan.Device(role)) {
				return fmt.Errorf("selected %s partition %s does not exist", role, plan.Device(role))
			}
		}
	}

	mounted, err := disk.Mounted(p.source)
	if err != nil {
		return err
	}
	if !mounted {
		return fmt.Errorf("backup source %s is not mounted", p.source)
	}

	for _, tree := range []string{"root", "home"} {
		if info, err := os.Stat(filepath.Join(p.source, tree)); err != nil || !info.IsDir() {
			return fmt.Errorf("backup source %s does not contain a %s directory", p.source, tree)
		}
	}
	if info, err := os.Stat(filepath.Join(p.source, "code")); err == nil && info.IsDir() {
		ctx.HasCode = true
	}

	ctx.OwnerUID, ctx.OwnerGID, err = inferOwner(filepath.Join(p.source, "home"))
	if err != nil {
		p.log.Warning("Could not infer user ownership from the backup: %v", err)
		ctx.OwnerUID, ctx.OwnerGID = -1, -1
	}
	return nil
}

type dirOwner struct {
	uid int
	gid int
}

// inferOwner reads the ownership of the user directories in the
// backup's home tree.
func inferOwner(homePath string) (int, int, error) {
	entries, err := os.ReadDir(homePath)
	if err != nil {
		return 0, 0, err
	}

	var owners []dirOwner
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			owners = append(owners, dirOwner{uid: int(stat.Uid), gid: int(stat.Gid)})
		}
	}
	if len(owners) == 0 {
		return 0, 0, fmt.Errorf("no user directory under %s", homePath)
	}

	owner := pickOwner(owners)
	return owner.uid, owner.gid, nil
}

// pickOwner prefers the first non-root-owned directory: home trees can
// carry root-owned entries like lost+found, which sort first but never
// identify the primary user.
func pickOwner(owners []dirOwner) dirOwner {
	for _, o := range owners {
		if o.uid != 0 {
			return o
		}
	}
	return owners[0]
}

// partitionDisk wipes the target disk and creates the GPT layout:
// EFI, boot, and root taking the remainder.
func (p *Pipeline) partitionDisk(plan Plan) error {
	if err := p.run.Run("wipefs", "-a", plan.Disk); err != nil {
		return err
	}
	if err := p.run.Run("sgdisk", "--zap-all", plan.Disk); err != nil {
		return err
	}

	steps := [][]string{
		{"-n", "1:0:" + efiSize, "-t", "1:ef00", "-c", "1:EFI"},
		{"-n", "2:0:" + bootSize, "-t", "2:8300", "-c", "2:boot"},
		{"-n", "3:0:0", "-t", "3:8309", "-c", "3:root"},
	}
	for _, step := range steps {
		if err := p.run.Run("sgdisk", append(step, plan.Disk)...); err != nil {
			return err
		}
	}

	if err := p.run.Run("partprobe", plan.Disk); err != nil {
		return err
	}
	for _, role := range allRoles {
		if err := disk.WaitForDevice(p.run, plan.Device(role), 10); err != nil {
			return err
		}
	}
	return nil
}

// verifyPartitions re-validates the operator-selected devices right
// before the first destructive action.
func (p *Pipeline) verifyPartitions(plan Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	for _, role := range allRoles {
		if !disk.DeviceExists(plan.Device(role)) {
			return fmt.Errorf("selected %s partition %s disappeared", role, plan.Device(role))
		}
	}
	return nil
}

// encryptRoot initializes LUKS on the root partition and opens it
// under a mapper name derived from the LUKS UUID, tying the name
// deterministically to the volume across repeated runs.
func (p *Pipeline) encryptRoot(plan Plan, ctx *Context, pass *system.SecureBytes, cleanup *system.CleanupStack) error {
	root := plan.Device(RoleRoot)

	if err := p.luks.Format(root, pass); err != nil {
		return err
	}

	luksUUID, err := p.luks.UUID(root)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(luksUUID); err != nil {
		return fmt.Errorf("unexpected LUKS UUID %q on %s: %w", luksUUID, root, err)
	}
	ctx.LUKSUUID = luksUUID
	ctx.Mapper = "luks-" + luksUUID

	if err := p.luks.Open(root, ctx.Mapper, pass); err != nil {
		return err
	}
	cleanup.Add("close encryption mapper", func() error {
		return p.luks.Close(ctx.Mapper)
	})
	return nil
}

func (p *Pipeline) makeFilesystem(ctx *Context) error {
	device := volume.MapperPath(ctx.Mapper)
	if err := p.mounts.Mkfs(device, "btrfs", rootFSLabel); err != nil {
		return err
	}

	fsUUID, err := p.insp.FilesystemUUID(device)
	if err != nil {
		return err
	}
	ctx.RootUUID = fsUUID
	return nil
}

// createSubvolumes mounts the BTRFS top level, lays out the named
// subvolumes, applies no-CoW and ownership, and unmounts again.
func (p *Pipeline) createSubvolumes(ctx *Context) error {
	device := volume.MapperPath(ctx.Mapper)
	if err := p.mounts.Mount(device, topLevelMount, []string{"subvolid=5"}); err != nil {
		return err
	}

	err := p.populateTopLevel(ctx)
	if uerr := p.mounts.Unmount(topLevelMount); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func (p *Pipeline) populateTopLevel(ctx *Context) error {
	for _, name := range ctx.subvolumes() {
		if err := p.btrfs.SubvolumeCreate(filepath.Join(topLevelMount, name)); err != nil {
			return err
		}
	}

	// vm holds large mutable images; no-CoW must be applied while the
	// subvolume is still empty.
	if err := p.btrfs.SetNoCow(filepath.Join(topLevelMount, "vm")); err != nil {
		return err
	}

	if ctx.OwnerUID >= 0 {
		userOwned := []string{"home"}
		if ctx.HasCode {
			userOwned = append(userOwned, "code")
		}
		for _, name := range userOwned {
			path := filepath.Join(topLevelMount, name)
			if err := os.Chown(path, ctx.OwnerUID, ctx.OwnerGID); err != nil {
				return fmt.Errorf("failed to set ownership of %s: %w", path, err)
			}
			if err := os.Chmod(path, 0755); err != nil {
				return fmt.Errorf("failed to set permissions of %s: %w", path, err)
			}
		}
	}
	return nil
}

func (ctx *Context) subvolumes() []string {
	names := []string{"root", "home"}
	if ctx.HasCode {
		names = append(names, "code")
	}
	return append(names, "vm")
}

// mountTargets mounts every subvolume and partition at its final place
// under the staging root, formatting what the plan marks for
// formatting. Each mount registers its own teardown entry; the stack's
// reverse order guarantees unmounting in strict reverse of mounting.
func (p *Pipeline) mountTargets(plan Plan, ctx *Context, cleanup *system.CleanupStack) error {
	device := volume.MapperPath(ctx.Mapper)

	mountSubvol := func(name, at string, compress bool) error {
		opts := []string{"subvol=" + name, "noatime", "discard=async"}
		if compress {
			opts = append(opts, "compress="+subvolCompression)
		}
		if err := p.mounts.Mount(device, at, opts); err != nil {
			return err
		}
		cleanup.Add("unmount "+at, func() error { return p.mounts.Unmount(at) })
		return nil
	}

	if err := mountSubvol("root", targetRoot, true); err != nil {
		return err
	}
	if err := mountSubvol("home", filepath.Join(targetRoot, "home"), true); err != nil {
		return err
	}
	if ctx.HasCode {
		if err := mountSubvol("code", filepath.Join(targetRoot, "code"), true); err != nil {
			return err
		}
	}
	// The no-CoW subvolume omits compression.
	if err := mountSubvol("vm", filepath.Join(targetRoot, "vm"), false); err != nil {
		return err
	}

	bootDev := plan.Device(RoleBoot)
	if err := p.mounts.Mkfs(bootDev, "ext4", "boot"); err != nil {
		return err
	}
	bootMount := filepath.Join(targetRoot, "boot")
	if err := p.mounts.Mount(bootDev, bootMount, nil); err != nil {
		return err
	}
	cleanup.Add("unmount "+bootMount, func() error { return p.mounts.Unmount(bootMount) })

	efiDev := plan.Device(RoleEFI)
	if plan.Targets[RoleEFI].Action == ActionFormat {
		if err := p.mounts.Mkfs(efiDev, "vfat", "EFI"); err != nil {
			return err
		}
	}
	efiMount := filepath.Join(targetRoot, "boot", "efi")
	if err := p.mounts.Mount(efiDev, efiMount, nil); err != nil {
		return err
	}
	cleanup.Add("unmount "+efiMount, func() error { return p.mounts.Unmount(efiMount) })

	var err error
	if ctx.BootUUID, err = p.insp.FilesystemUUID(bootDev); err != nil {
		return err
	}
	if ctx.EFIUUID, err = p.insp.FilesystemUUID(efiDev); err != nil {
		return err
	}
	return nil
}

// restoreData copies the backed-up trees onto their mount points, in
// order. Each copy is independent: a failure in one does not prevent
// attempting the next, but any failure aborts the pipeline before the
// boot configuration stage.
func (p *Pipeline) restoreData(ctx *Context) error {
	opts := backup.CopyOptions{Xattrs: true, Progress: true}

	pairs := [][2]string{
		{filepath.Join(p.source, "root"), targetRoot},
		{filepath.Join(p.source, "home"), filepath.Join(targetRoot, "home")},
	}
	if ctx.HasCode {
		pairs = append(pairs, [2]string{filepath.Join(p.source, "code"), filepath.Join(targetRoot, "code")})
	}

	var errs []error
	for _, pair := range pairs {
		if err := p.engine.Sync(pair[0], pair[1], opts); err != nil {
			p.log.Error("Copy failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// configureBoot synthesizes fstab/crypttab from the harvested UUIDs,
// writes the missing-volume report, and installs the bootloader from
// within the new root.
func (p *Pipeline) configureBoot(plan Plan, ctx *Context, cleanup *system.CleanupStack) error {
	etc := filepath.Join(targetRoot, "etc")
	if err := os.MkdirAll(etc, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(etc, "fstab"), []byte(FstabDocument(ctx)), 0644); err != nil {
		return fmt.Errorf("failed to write fstab: %w", err)
	}
	if err := os.WriteFile(filepath.Join(etc, "crypttab"), []byte(CrypttabDocument(ctx)), 0600); err != nil {
		return fmt.Errorf("failed to write crypttab: %w", err)
	}

	if err := p.writeMissingVolumeReport(ctx); err != nil {
		p.log.Warning("Could not produce the reattach report: %v", err)
	}

	binds := bindMounts
	if disk.DeviceExists("/sys/firmware/efi/efivars") {
		binds = append(binds, "/sys/firmware/efi/efivars")
	}
	for _, src := range binds {
		dst := filepath.Join(targetRoot, src)
		if err := p.mounts.BindMount(src, dst); err != nil {
			return err
		}
		cleanup.Add("unmount "+dst, func() error { return p.mounts.Unmount(dst) })
	}

	if plan.Mode == ModePartitions {
		// The preserved operating system must appear in the generated
		// boot menu.
		if err := p.enableOSProber(); err != nil {
			return err
		}
	}

	p.log.Info("Installing bootloader...")
	if err := p.run.RunStream("chroot", targetRoot,
		"grub-install", "--target=x86_64-efi", "--efi-directory=/boot/efi", "--bootloader-id=zimnica"); err != nil {
		return err
	}
	if err := p.run.RunStream("chroot", targetRoot, "update-grub"); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) writeMissingVolumeReport(ctx *Context) error {
	oldFstab, err := os.ReadFile(filepath.Join(p.source, "root", "etc", "fstab"))
	if err != nil {
		return err
	}

	created := map[string]bool{
		ctx.RootUUID: true,
		ctx.BootUUID: true,
		ctx.EFIUUID:  true,
		ctx.LUKSUUID: true,
	}
	report := MissingVolumeReport(string(oldFstab), created, p.insp.DeviceByUUID)
	if report == "" {
		return nil
	}

	path := filepath.Join(targetRoot, "restore-report.txt")
	p.log.Warning("Some volumes of the backed-up system were not reconnected; see %s", path)
	return os.WriteFile(path, []byte(report), 0644)
}

func (p *Pipeline) enableOSProber() error {
	path := filepath.Join(targetRoot, "etc", "default", "grub")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read grub defaults: %w", err)
	}

	content := string(data)
	if strings.Contains(content, "GRUB_DISABLE_OS_PROBER") {
		content = strings.ReplaceAll(content,
			"GRUB_DISABLE_OS_PROBER=true", "GRUB_DISABLE_OS_PROBER=false")
	} else {
		content = strings.TrimRight(content, "\n") + "\nGRUB_DISABLE_OS_PROBER=false\n"
	}
	return os.WriteFile(path, []byte(content), 0644)
}
