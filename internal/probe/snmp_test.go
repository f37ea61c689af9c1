package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"
)

type fakeSession struct {
	get    func(oids []string) (*gosnmp.SnmpPacket, error)
	walk   func(root string) ([]gosnmp.SnmpPDU, error)
	closed *int32
}

func (f fakeSession) Get(oids []string) (*gosnmp.SnmpPacket, error) { return f.get(oids) }

func (f fakeSession) BulkWalkAll(root string) ([]gosnmp.SnmpPDU, error) { return f.walk(root) }

func (f fakeSession) Close() error {
	if f.closed != nil {
		atomic.AddInt32(f.closed, 1)
	}
	return nil
}

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProber(cfg Config, dial func(string) (session, error)) *Prober {
	p := New(zerolog.Nop(), cfg)
	p.dial = dial
	p.now = func() time.Time { return fixed }
	return p
}

func TestNew_Defaults(t *testing.T) {
	p := New(zerolog.Nop(), Config{Retries: -1})
	if p.cfg.Community != "public" || p.cfg.Version != "2c" || p.cfg.Port != 161 {
		t.Fatalf("unexpected defaults: %+v", p.cfg)
	}
	if p.cfg.Timeout != 900*time.Millisecond || p.cfg.Retries != 0 || p.cfg.Workers != 16 {
		t.Fatalf("unexpected defaults: %+v", p.cfg)
	}
}

func TestPollHosts_UpAndDown(t *testing.T) {
	var closed int32
	p := newTestProber(Config{Workers: 2}, func(host string) (session, error) {
		switch host {
		case "10.0.0.1":
			return fakeSession{closed: &closed, get: func([]string) (*gosnmp.SnmpPacket, error) {
				return &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{{Name: "." + oidSysUpTime0, Type: gosnmp.TimeTicks, Value: uint32(1234)}}}, nil
			}}, nil
		case "10.0.0.2":
			return fakeSession{closed: &closed, get: func([]string) (*gosnmp.SnmpPacket, error) {
				return nil, errors.New("request timeout")
			}}, nil
		case "10.0.0.3":
			return fakeSession{closed: &closed, get: func([]string) (*gosnmp.SnmpPacket, error) {
				return &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{{Name: oidSysUpTime0, Type: gosnmp.NoSuchObject}}}, nil
			}}, nil
		default:
			return nil, errors.New("no route to host")
		}
	})

	got, err := p.FetchProbes(context.Background(), []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected a record per host, got %v", got)
	}
	if !got["10.0.0.1"].Up || got["10.0.0.2"].Up || got["10.0.0.3"].Up || got["10.0.0.4"].Up {
		t.Fatalf("unexpected results: %+v", got)
	}
	if !got["10.0.0.1"].CheckedAt.Equal(fixed) {
		t.Fatalf("expected check time to be stamped")
	}
	if atomic.LoadInt32(&closed) != 3 {
		t.Fatalf("expected every opened session to be closed, got %d", closed)
	}
}

func TestPollHosts_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestProber(Config{}, func(string) (session, error) {
		t.Fatalf("expected no dial after cancellation")
		return nil, nil
	})
	if _, err := p.FetchProbes(ctx, []string{"10.0.0.1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchFromRouter_ReadsNetwatchTable(t *testing.T) {
	var dialed []string
	p := newTestProber(Config{Router: "192.168.88.1"}, func(addr string) (session, error) {
		dialed = append(dialed, addr)
		return fakeSession{walk: func(root string) ([]gosnmp.SnmpPDU, error) {
			switch root {
			case oidNetwatchHost:
				return []gosnmp.SnmpPDU{
					{Name: "." + oidNetwatchHost + ".1", Type: gosnmp.IPAddress, Value: "8.8.8.8"},
					{Name: "." + oidNetwatchHost + ".2", Type: gosnmp.IPAddress, Value: "10.0.1.1"},
					{Name: "." + oidNetwatchHost + ".3", Type: gosnmp.IPAddress, Value: "10.0.1.2"},
					{Name: "." + oidNetwatchHost + ".4", Type: gosnmp.IPAddress, Value: "10.9.9.9"},
				}, nil
			case oidNetwatchStatus:
				return []gosnmp.SnmpPDU{
					{Name: "." + oidNetwatchStatus + ".1", Type: gosnmp.Integer, Value: 1},
					{Name: "." + oidNetwatchStatus + ".2", Type: gosnmp.Integer, Value: 2},
					{Name: "." + oidNetwatchStatus + ".3", Type: gosnmp.Integer, Value: 3},
					{Name: "." + oidNetwatchStatus + ".4", Type: gosnmp.Integer, Value: 1},
				}, nil
			}
			return nil, errors.New("unexpected walk")
		}}, nil
	})

	got, err := p.FetchProbes(context.Background(), []string{"8.8.8.8", "10.0.1.1", "10.0.1.2", "10.5.5.5"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(dialed) != 1 || dialed[0] != "192.168.88.1" {
		t.Fatalf("expected a single router session, got %v", dialed)
	}
	if len(got) != 2 || !got["8.8.8.8"].Up || got["10.0.1.1"].Up {
		t.Fatalf("unexpected results: %+v", got)
	}
	if _, ok := got["10.0.1.2"]; ok {
		t.Fatalf("expected an unknown netwatch entry to be left out")
	}
}

func TestFetchFromRouter_UnreachableRouterFailsTheBatch(t *testing.T) {
	p := newTestProber(Config{Router: "192.168.88.1"}, func(string) (session, error) {
		return nil, errors.New("connection refused")
	})
	if _, err := p.FetchProbes(context.Background(), []string{"8.8.8.8"}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSplitHostPort(t *testing.T) {
	if h, p := splitHostPort("10.0.0.1:1161", 161); h != "10.0.0.1" || p != 1161 {
		t.Fatalf("unexpected %s:%d", h, p)
	}
	if h, p := splitHostPort("olt.example.net", 161); h != "olt.example.net" || p != 161 {
		t.Fatalf("unexpected %s:%d", h, p)
	}
}
