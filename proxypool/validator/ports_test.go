package validator

import (
	"context"
	"errors"
	"net"
	"testing"

	"subpool/proxypool/model"
)

func TestPortAllocator_SkipsOccupiedPorts(t *testing.T) {
	occupied := map[int]bool{20002: true, 20004: true}
	a := &PortAllocator{base: 20001, isFree: func(p int) bool { return !occupied[p] }}

	ports, err := a.Allocate(context.Background(), 4)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	want := []int{20001, 20003, 20005, 20006}
	for i, p := range ports {
		if p != want[i] {
			t.Errorf("Port %d: expected %d, but got %d", i, want[i], p)
		}
	}
}

func TestPortAllocator_EachBatchRestartsFromBase(t *testing.T) {
	a := &PortAllocator{base: 30000, isFree: func(int) bool { return true }}
	first, _ := a.Allocate(context.Background(), 2)
	second, _ := a.Allocate(context.Background(), 2)
	if first[0] != 30000 || second[0] != 30000 {
		t.Errorf("Expected both batches to start at base, got %v and %v", first, second)
	}
}

func TestPortAllocator_Exhausted(t *testing.T) {
	a := &PortAllocator{base: 65534, isFree: func(int) bool { return true }}
	ports, err := a.Allocate(context.Background(), 3)
	if !errors.Is(err, ErrPortsExhausted) {
		t.Fatalf("Expected ErrPortsExhausted, but got %v", err)
	}
	if len(ports) != 2 {
		t.Errorf("Expected the 2 ports that fit, but got %v", ports)
	}
}

func TestPortAllocator_AssignSetsLocalPort(t *testing.T) {
	a := &PortAllocator{base: 40000, isFree: func(int) bool { return true }}
	records := []*model.Record{
		{Server: "a", Port: 1, Options: &model.ShadowsocksOptions{}},
		{Server: "b", Port: 2, Options: &model.ShadowsocksOptions{}},
	}
	if err := a.Assign(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	if records[0].LocalPort != 40000 || records[1].LocalPort != 40001 {
		t.Errorf("Unexpected local ports %d, %d", records[0].LocalPort, records[1].LocalPort)
	}
}

func TestPortIsFree_DetectsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if portIsFree(port) {
		t.Errorf("Expected port %d to be reported busy", port)
	}
}
