package mem

import "testing"

func TestRegistryFreeProcessMemoryActsOnEveryHeap(t *testing.T) {
	r := NewRegistry()
	internal := newTestHeap(600, FirstFit)
	external := newTestHeap(600, FirstFit)
	r.Register(internal)
	r.Register(external)

	ia := internal.Malloc(3, 20)
	ea := external.Malloc(3, 20)

	r.FreeProcessMemory(3)

	if owner := internal.GetOwner(ia); owner != 0 {
		t.Errorf("internal heap owner after FreeProcessMemory = %d, want 0", owner)
	}
	if owner := external.GetOwner(ea); owner != 0 {
		t.Errorf("external heap owner after FreeProcessMemory = %d, want 0", owner)
	}
}

func TestRegistryByNameAndAt(t *testing.T) {
	r := NewRegistry()
	internal := newTestHeap(600, FirstFit)
	internal.Name = "internal"
	r.Register(internal)

	if got := r.ByName("internal"); got != internal {
		t.Errorf("ByName(internal) did not return the registered heap")
	}
	if got := r.ByName("missing"); got != nil {
		t.Errorf("ByName(missing) = %v, want nil", got)
	}
	if got := r.At(0); got != internal {
		t.Errorf("At(0) did not return the registered heap")
	}
	if got := r.At(5); got != nil {
		t.Errorf("At(5) = %v, want nil (out of range)", got)
	}
}
