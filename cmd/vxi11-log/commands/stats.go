package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByChannel   map[log.Channel]int
	Procedures        map[string]*ProcedureStats
	DeviceErrors      map[wire.ErrorCode]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ProcedureStats holds reply statistics for one procedure.
type ProcedureStats struct {
	Calls   int
	Replies int
	Total   time.Duration
	Max     time.Duration
}

// Mean returns the mean processing time of the timed replies.
func (p *ProcedureStats) Mean() time.Duration {
	if p.Replies == 0 {
		return 0
	}
	return p.Total / time.Duration(p.Replies)
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Channel    log.Channel
	RemoteAddr string
	Links      map[int32]bool
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByChannel:   make(map[log.Channel]int),
		Procedures:        make(map[string]*ProcedureStats),
		DeviceErrors:      make(map[wire.ErrorCode]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	s.EventsByChannel[event.Channel]++

	// Track time range
	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Links:     make(map[int32]bool),
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.Channel == log.ChannelUnknown {
		conn.Channel = event.Channel
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}
	if event.LinkID != 0 {
		conn.Links[event.LinkID] = true
	}

	if c := event.Call; c != nil {
		name := c.ProcedureName
		if name == "" {
			name = wire.ProcedureName(c.Program, c.Procedure)
		}
		p, ok := s.Procedures[name]
		if !ok {
			p = &ProcedureStats{}
			s.Procedures[name] = p
		}
		switch c.Type {
		case log.MessageTypeCall, log.MessageTypeOneWay:
			p.Calls++
		case log.MessageTypeReply:
			if c.ProcessingTime != nil {
				p.Replies++
				p.Total += *c.ProcessingTime
				if *c.ProcessingTime > p.Max {
					p.Max = *c.ProcessingTime
				}
			}
			if c.DeviceError != nil && *c.DeviceError != 0 {
				s.DeviceErrors[wire.ErrorCode(*c.DeviceError)]++
			}
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats := newStats()
	err := each(path, log.Filter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== VXI-11 Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Channel:")
	for _, ch := range []log.Channel{log.ChannelCore, log.ChannelAbort, log.ChannelInterrupt, log.ChannelPortmap, log.ChannelUnknown} {
		if count := stats.EventsByChannel[ch]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", ch.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerRPC, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Procedures) > 0 {
		names := make([]string, 0, len(stats.Procedures))
		for name := range stats.Procedures {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(w, "Procedures:")
		for _, name := range names {
			p := stats.Procedures[name]
			fmt.Fprintf(w, "  %-20s calls=%d", name, p.Calls)
			if p.Replies > 0 {
				fmt.Fprintf(w, " mean=%s max=%s", formatDuration(p.Mean()), formatDuration(p.Max))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if len(stats.DeviceErrors) > 0 {
		codes := make([]wire.ErrorCode, 0, len(stats.DeviceErrors))
		for code := range stats.DeviceErrors {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

		fmt.Fprintln(w, "Device Errors:")
		for _, code := range codes {
			fmt.Fprintf(w, "  %-28s %d\n", fmt.Sprintf("%s (%d):", code, int32(code)), stats.DeviceErrors[code])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		// Sort by first seen time
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, duration %s\n",
				shortenConnID(c.id), c.stats.Channel, c.stats.Events, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", c.stats.RemoteAddr)
			}
			if n := len(c.stats.Links); n > 0 {
				fmt.Fprintf(w, "           Links: %d\n", n)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
