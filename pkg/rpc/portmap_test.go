package rpc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPortmapperService(t *testing.T) {
	pm := NewPortmapper()
	srv := startServer(t, "tcp", pm, ServerConfig{ProcedureName: func(_, p uint32) string { return PortmapName(p) }})

	c, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{
		Program: PortmapProgram,
		Version: PortmapVersion,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	pc := NewPortmapClient(c)
	defer pc.Close()

	ctx := context.Background()
	if err := pc.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	core := Mapping{Program: 0x0607AF, Version: 1, Protocol: ProtocolTCP, Port: 1024}
	ok, err := pc.Set(ctx, core)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	ok, err = pc.Set(ctx, core)
	if err != nil || ok {
		t.Errorf("duplicate Set: ok=%v err=%v, want false", ok, err)
	}

	port, err := pc.GetPort(ctx, 0x0607AF, 1, ProtocolTCP)
	if err != nil {
		t.Fatalf("GetPort failed: %v", err)
	}
	if port != 1024 {
		t.Errorf("GetPort: got %d, want 1024", port)
	}

	if _, err := pc.GetPort(ctx, 0x0607AF, 1, ProtocolUDP); !errors.Is(err, ErrProgramNotRegistered) {
		t.Errorf("unregistered protocol: expected ErrProgramNotRegistered, got %v", err)
	}

	pm.Register(Mapping{Program: 0x0607B0, Version: 1, Protocol: ProtocolTCP, Port: 1025})
	list, err := pc.Dump(ctx)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if len(list) != 2 || list[0].Program != 0x0607AF || list[1].Port != 1025 {
		t.Errorf("Dump: %+v", list)
	}

	ok, err = pc.Unset(ctx, 0x0607AF, 1)
	if err != nil || !ok {
		t.Errorf("Unset: ok=%v err=%v", ok, err)
	}
	if pm.Lookup(0x0607AF, 1, ProtocolTCP) != 0 {
		t.Error("mapping still present after Unset")
	}
}

func TestPortmapperRejectsOtherPrograms(t *testing.T) {
	srv := startServer(t, "tcp", NewPortmapper(), ServerConfig{})
	c := dial(t, "tcp", srv, testProgram, testVersion)
	if err := c.Call(context.Background(), NullProcedure, nil, nil); !IsAcceptStat(err, ProgUnavail) {
		t.Errorf("expected PROG_UNAVAIL, got %v", err)
	}
}

func TestPortmapAddress(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"10.0.0.5", "10.0.0.5:111"},
		{"127.0.0.1:4000", "127.0.0.1:4000"},
		{"::1", "[::1]:111"},
		{"scope.lab", "scope.lab:111"},
	}
	for _, tt := range tests {
		if got := portmapAddress(tt.host); got != tt.want {
			t.Errorf("portmapAddress(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}
