package paging_test

import (
	"errors"
	"testing"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/paging"
)

func TestNewMapsKernelIdentityAndUserSuperPage(t *testing.T) {
	d := paging.New(0)

	if _, _, err := d.Translate(0, arch.Supervisor); err != nil {
		t.Fatalf("Translate(0): %v", err)
	}

	if _, _, err := d.Translate(paging.VideoMemPhys, arch.Supervisor); err != nil {
		t.Fatalf("Translate(video): %v", err)
	}

	phys, access, err := d.Translate(paging.UserSuperBase, arch.User)
	if err != nil {
		t.Fatalf("Translate(user super): %v", err)
	}

	if phys != d.UserPhysBase() {
		t.Fatalf("Translate(user super) phys = %s, want %s", phys, d.UserPhysBase())
	}

	if !access.User || !access.Super {
		t.Fatalf("Translate(user super) access = %+v, want User+Super", access)
	}
}

func TestUserPhysBaseVariesPerSlot(t *testing.T) {
	d0 := paging.New(0)
	d1 := paging.New(1)

	if d0.UserPhysBase() == d1.UserPhysBase() {
		t.Fatal("different slots must get different physical backing")
	}

	if d1.UserPhysBase()-d0.UserPhysBase() != arch.Addr(4*1024*1024) {
		t.Fatalf("slot span = %s, want 4 MiB", d1.UserPhysBase()-d0.UserPhysBase())
	}
}

func TestSameKernelMappingsAcrossSlots(t *testing.T) {
	d0 := paging.New(0)
	d1 := paging.New(3)

	if !paging.SameKernelMappings(d0, d1) {
		t.Fatal("kernel entries must be identical across every process slot")
	}
}

func TestTranslateUnmappedAddressErrors(t *testing.T) {
	d := paging.New(0)

	_, _, err := d.Translate(arch.Addr(64*1024*1024), arch.Supervisor)
	if !errors.Is(err, paging.ErrNotMapped) {
		t.Fatalf("Translate: got %v, want ErrNotMapped", err)
	}
}

func TestTranslateSupervisorOnlyRejectsUserAccess(t *testing.T) {
	d := paging.New(0)

	_, _, err := d.Translate(0, arch.User)
	if err == nil {
		t.Fatal("expected access-control error for user access to kernel page")
	}
}

func TestMapPageThenTranslate(t *testing.T) {
	d := paging.New(0)

	va := arch.Addr(136 * 1024 * 1024)
	pa := arch.Addr(0x1000000)

	if err := d.MapPage(va, pa, paging.Access{User: true, Writable: true, Present: true, Backing: paging.BackingSlab}); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	phys, access, err := d.Translate(va, arch.User)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if phys != pa {
		t.Fatalf("Translate phys = %s, want %s", phys, pa)
	}

	if !access.Writable {
		t.Fatal("mapped page should be writable")
	}
}

func TestMapPageRejectsNotPresent(t *testing.T) {
	d := paging.New(0)

	va := arch.Addr(136 * 1024 * 1024)
	pa := arch.Addr(0x1000000)

	err := d.MapPage(va, pa, paging.Access{User: true, Writable: true, Backing: paging.BackingSlab})
	if !errors.Is(err, paging.ErrBadFlags) {
		t.Fatalf("MapPage(not present) = %v, want ErrBadFlags", err)
	}
}

func TestMapPageRejectsUnspecifiedBacking(t *testing.T) {
	d := paging.New(0)

	va := arch.Addr(136 * 1024 * 1024)
	pa := arch.Addr(0x1000000)

	err := d.MapPage(va, pa, paging.Access{User: true, Writable: true, Present: true})
	if !errors.Is(err, paging.ErrBadFlags) {
		t.Fatalf("MapPage(no backing) = %v, want ErrBadFlags", err)
	}
}

func TestMarkNotPresentThenTranslateFails(t *testing.T) {
	d := paging.New(0)

	va := arch.Addr(136 * 1024 * 1024)
	pa := arch.Addr(0x1000000)

	if err := d.MapPage(va, pa, paging.Access{User: true, Writable: true, Present: true, Backing: paging.BackingSlab}); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	d.MarkNotPresent(va)

	if _, _, err := d.Translate(va, arch.User); !errors.Is(err, paging.ErrNotMapped) {
		t.Fatalf("Translate after MarkNotPresent: got %v, want ErrNotMapped", err)
	}
}

func TestVidmapActivateDeactivate(t *testing.T) {
	d := paging.New(0)

	if d.VidmapActive() {
		t.Fatal("vidmap should start inactive")
	}

	d.ActivateVidmap()

	if !d.VidmapActive() {
		t.Fatal("ActivateVidmap did not set active")
	}

	phys, _, err := d.Translate(paging.UserVideoBase, arch.User)
	if err != nil {
		t.Fatalf("Translate(vidmap): %v", err)
	}

	if phys != paging.VideoMemPhys {
		t.Fatalf("Translate(vidmap) = %s, want physical video memory", phys)
	}

	d.DeactivateVidmap()

	if d.VidmapActive() {
		t.Fatal("DeactivateVidmap did not clear active")
	}

	if _, _, err := d.Translate(paging.UserVideoBase, arch.User); err == nil {
		t.Fatal("expected vidmap translate to fail after deactivate")
	}
}

func TestRemapVidmapOnlyAppliesWhenActive(t *testing.T) {
	d := paging.New(0)

	offscreen := arch.Addr(0x2000000)
	d.RemapVidmap(offscreen) // No-op: vidmap not active yet.

	if d.VidmapActive() {
		t.Fatal("RemapVidmap must not activate vidmap on its own")
	}

	d.ActivateVidmap()
	d.RemapVidmap(offscreen)

	phys, _, err := d.Translate(paging.UserVideoBase, arch.User)
	if err != nil {
		t.Fatalf("Translate(vidmap): %v", err)
	}

	if phys != offscreen {
		t.Fatalf("Translate(vidmap) = %s, want %s", phys, offscreen)
	}
}

func TestBusLoadDirectoryAndTranslate(t *testing.T) {
	bus := paging.NewBus()
	d := paging.New(0)

	if _, _, err := bus.Translate(0, arch.Supervisor); !errors.Is(err, paging.ErrNotMapped) {
		t.Fatalf("Translate with no directory loaded: got %v, want ErrNotMapped", err)
	}

	bus.LoadDirectory(d)

	if bus.Current() != d {
		t.Fatal("Current() did not return the loaded directory")
	}

	if _, _, err := bus.Translate(0, arch.Supervisor); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if bus.Flushes() != 1 {
		t.Fatalf("Flushes() = %d, want 1", bus.Flushes())
	}
}

func TestBusFlushIfCurrentOnlyFlushesLoadedDirectory(t *testing.T) {
	bus := paging.NewBus()
	d0 := paging.New(0)
	d1 := paging.New(1)

	bus.LoadDirectory(d0)
	flushesAfterLoad := bus.Flushes()

	bus.FlushIfCurrent(d1)
	if bus.Flushes() != flushesAfterLoad {
		t.Fatal("FlushIfCurrent flushed for a non-current directory")
	}

	bus.FlushIfCurrent(d0)
	if bus.Flushes() != flushesAfterLoad+1 {
		t.Fatal("FlushIfCurrent did not flush for the current directory")
	}
}
