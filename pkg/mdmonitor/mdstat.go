package mdmonitor

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ParseMdstat turns /proc/mdstat's text (original_source/mdmonitor.c
// polls this file every pass: "We also read /proc/mdstat to get
// rebuild percent ... that appears in /proc/mdstat") into one Snapshot
// per array. Only the fields the monitor's event detection and
// metrics actually consume are extracted; unrecognised lines
// (Personalities, unused devices, bitmap lines without a percent) are
// skipped rather than rejected, since the format carries sections this
// engine has no use for.
func ParseMdstat(r io.Reader) ([]Snapshot, error) {
	sc := bufio.NewScanner(r)
	var out []Snapshot
	var cur *Snapshot

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for sc.Scan() {
		line := sc.Text()
		if m := arrayHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			s := Snapshot{Array: "/dev/" + m[1], RebuildPercent: -1}
			s.Slots = parseMembers(m[3])
			cur = &s
			continue
		}
		if cur == nil {
			continue
		}
		if m := statusLineRe.FindStringSubmatch(line); m != nil {
			applyStatusLine(cur, m)
			continue
		}
		if m := recoveryLineRe.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.ParseFloat(m[1], 64)
			cur.RebuildPercent = int(pct)
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// arrayHeaderRe matches "md0 : active raid5 sda1[0] sdb1[1] sdc1[2]"
// and the inactive/readonly variants mdstat also prints.
var arrayHeaderRe = regexp.MustCompile(`^(md\S+)\s*:\s*(active|inactive|read-only)\s*(?:\(\S+\)\s*)?(?:raid\d+\s+)?(.*)$`)

// memberRe matches one "sda1[0]" or "sda1[0](F)"/"sda1[0](S)" token.
var memberRe = regexp.MustCompile(`^(\S+?)\[(\d+)\](\([FS]\))?$`)

func parseMembers(rest string) []SlotState {
	var slots []SlotState
	for _, tok := range strings.Fields(rest) {
		m := memberRe.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		slots = append(slots, SlotState{
			Device: "/dev/" + m[1],
			Failed: m[3] == "(F)",
			Spare:  m[3] == "(S)",
		})
	}
	return slots
}

// statusLineRe matches "1998848 blocks super 1.2 level 5, 64k chunk,
// algorithm 2 [3/2] [UU_]".
var statusLineRe = regexp.MustCompile(`^\s*\d+\s+blocks.*\[(\d+)/(\d+)\]\s*\[([U_]+)\]`)

func applyStatusLine(s *Snapshot, m []string) {
	raid, _ := strconv.Atoi(m[1])
	active, _ := strconv.Atoi(m[2])
	s.Raid = raid
	s.Active = active
	s.Working = active
	s.Failed = raid - active
	for i, c := range m[3] {
		if i >= len(s.Slots) {
			break
		}
		s.Slots[i].Failed = c == '_'
	}
}

// recoveryLineRe matches the progress bar line:
// "[=====>..............]  recovery = 34.5% (123456/345678) finish=..."
var recoveryLineRe = regexp.MustCompile(`(?:resync|recovery|reshape|check)\s*=\s*([\d.]+)%`)
