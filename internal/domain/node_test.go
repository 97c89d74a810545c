package domain

import "testing"

func TestCanAccommodate(t *testing.T) {
	n := &InfrastructureNode{
		AvailableCPU:     2.0,
		AvailMemoryMB:    1024,
		AvailStorageMB:   2048,
		ActiveContainers: 1,
		MaxContainers:    2,
	}

	if !n.CanAccommodate(1.0, 512, 1024) {
		t.Fatal("expected node with headroom to accommodate request")
	}
	if n.CanAccommodate(3.0, 512, 1024) {
		t.Fatal("expected insufficient CPU to be rejected")
	}
	if n.CanAccommodate(1.0, 2048, 1024) {
		t.Fatal("expected insufficient memory to be rejected")
	}
	if n.CanAccommodate(1.0, 512, 4096) {
		t.Fatal("expected insufficient storage to be rejected")
	}

	n.ActiveContainers = 2
	if n.CanAccommodate(1.0, 512, 1024) {
		t.Fatal("expected node at container cap to be rejected regardless of spare capacity")
	}
}

func TestSupportsRuntime(t *testing.T) {
	n := &InfrastructureNode{SupportedRuntimes: []string{"docker", "containerd"}}

	if !n.SupportsRuntime("docker") {
		t.Fatal("expected docker to be supported")
	}
	if n.SupportsRuntime("firecracker") {
		t.Fatal("expected firecracker to be unsupported")
	}
	if n.SupportsRuntime("") {
		t.Fatal("expected empty runtime to be unsupported")
	}
}
