package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fibermap/core-go/internal/status"
)

// Config describes how netwatch results are collected over SNMP.
type Config struct {
	Community string
	Version   string // "2c" (default) | "1"
	Port      uint16
	Timeout   time.Duration
	Retries   int
	Workers   int
	// Router, when set, is a MikroTik whose netwatch table is read instead of polling every host.
	Router string
}

const (
	oidSysUpTime0 = "1.3.6.1.2.1.1.3.0"

	// MIKROTIK-MIB mtxrNetwatchTable columns.
	oidNetwatchHost   = "1.3.6.1.4.1.14988.1.1.20.1.1.2"
	oidNetwatchStatus = "1.3.6.1.4.1.14988.1.1.20.1.1.4"

	netwatchUp   = 1
	netwatchDown = 2
)

type session interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

type snmpSession struct {
	*gosnmp.GoSNMP
}

func (s snmpSession) Close() error {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}

// Prober answers netwatch lookups for the status resolver.
type Prober struct {
	cfg  Config
	log  zerolog.Logger
	dial func(address string) (session, error)
	now  func() time.Time
}

func New(log zerolog.Logger, cfg Config) *Prober {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	p := &Prober{cfg: cfg, log: log, now: time.Now}
	p.dial = p.connect
	return p
}

func (p *Prober) connect(address string) (session, error) {
	var version gosnmp.SnmpVersion
	switch strings.ToLower(strings.TrimSpace(p.cfg.Version)) {
	case "2c", "v2c", "":
		version = gosnmp.Version2c
	case "1", "v1":
		version = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", p.cfg.Version)
	}

	host, port := splitHostPort(address, p.cfg.Port)
	s := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Community: p.cfg.Community,
		Version:   version,
		Timeout:   p.cfg.Timeout,
		Retries:   p.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return snmpSession{s}, nil
}

func splitHostPort(address string, fallback uint16) (string, uint16) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return strings.TrimSpace(address), fallback
	}
	n, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, fallback
	}
	return host, uint16(n)
}

// FetchProbes implements status.ProbeSource.
func (p *Prober) FetchProbes(ctx context.Context, hosts []string) (map[string]status.Probe, error) {
	if len(hosts) == 0 {
		return map[string]status.Probe{}, nil
	}
	if strings.TrimSpace(p.cfg.Router) != "" {
		return p.fetchFromRouter(ctx, hosts)
	}
	return p.pollHosts(ctx, hosts)
}

// pollHosts asks each host for sysUpTime. A host that answers is up; one that does not is down.
// Hosts still pending when ctx ends are left out.
func (p *Prober) pollHosts(ctx context.Context, hosts []string) (map[string]status.Probe, error) {
	var mu sync.Mutex
	out := make(map[string]status.Probe, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, host := range hosts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			up := p.reachable(host)
			if gctx.Err() != nil {
				return nil
			}
			mu.Lock()
			out[host] = status.Probe{Host: host, Up: up, CheckedAt: p.now()}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Prober) reachable(host string) bool {
	s, err := p.dial(host)
	if err != nil {
		p.log.Debug().Err(err).Str("host", host).Msg("snmp connect failed")
		return false
	}
	defer s.Close()

	pkt, err := s.Get([]string{oidSysUpTime0})
	if err != nil {
		p.log.Debug().Err(err).Str("host", host).Msg("snmp get failed")
		return false
	}
	for _, v := range pkt.Variables {
		if v.Name == oidSysUpTime0 || v.Name == "."+oidSysUpTime0 {
			return v.Type != gosnmp.NoSuchObject && v.Type != gosnmp.NoSuchInstance && v.Type != gosnmp.Null
		}
	}
	return false
}

// fetchFromRouter reads the router's netwatch table. Entries in the "unknown" state and hosts the
// router does not watch are left out.
func (p *Prober) fetchFromRouter(ctx context.Context, hosts []string) (map[string]status.Probe, error) {
	s, err := p.dial(p.cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("connect netwatch router %s: %w", p.cfg.Router, err)
	}
	defer s.Close()

	hostPDUs, err := s.BulkWalkAll(oidNetwatchHost)
	if err != nil {
		return nil, fmt.Errorf("walk netwatch hosts: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	statusPDUs, err := s.BulkWalkAll(oidNetwatchStatus)
	if err != nil {
		return nil, fmt.Errorf("walk netwatch status: %w", err)
	}

	byIndex := make(map[int]string, len(hostPDUs))
	for _, pdu := range hostPDUs {
		idx, ok := lastOIDIndexInt(pdu.Name)
		if !ok {
			continue
		}
		if h, ok := pduString(pdu); ok {
			byIndex[idx] = h
		}
	}

	wanted := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		wanted[h] = struct{}{}
	}

	checked := p.now()
	out := make(map[string]status.Probe)
	for _, pdu := range statusPDUs {
		idx, ok := lastOIDIndexInt(pdu.Name)
		if !ok {
			continue
		}
		host, ok := byIndex[idx]
		if !ok {
			continue
		}
		if _, ok := wanted[host]; !ok {
			continue
		}
		switch gosnmp.ToBigInt(pdu.Value).Int64() {
		case netwatchUp:
			out[host] = status.Probe{Host: host, Up: true, CheckedAt: checked}
		case netwatchDown:
			out[host] = status.Probe{Host: host, Up: false, CheckedAt: checked}
		}
	}
	return out, nil
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case []byte:
		s := strings.TrimSpace(string(v))
		return s, s != ""
	default:
		return "", false
	}
}

func lastOIDIndexInt(oid string) (int, bool) {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return 0, false
	}
	parts := strings.Split(oid, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}
