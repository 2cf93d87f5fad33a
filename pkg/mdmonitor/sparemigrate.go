package mdmonitor

// ArrayStatus is the subset of one array's state spare migration
// reasons about (spec §4.6 "Spare migration").
type ArrayStatus struct {
	Name        string
	SpareGroup  string // "" means not eligible to donate or receive
	Active      int
	Raid        int
	Degraded    bool // any subarray degraded, disqualifies as a donor
	SpareCount  int
	DomainOK    func(candidateDisk string) bool // A's domain test
	Criteria    func(candidateDisk string) bool // A's spare-criteria test
	SpareDisks  []string
}

func (a ArrayStatus) optimal() bool {
	return a.Active == a.Raid && !a.Degraded
}

// Migration is one proposed hot-remove/hot-add pair (spec §4.6: "Move
// one disk from B to A by calling the manage subsystem").
type Migration struct {
	Donor     string
	Recipient string
	Disk      string
}

// PlanMigrations walks arrays per spec §4.6's spare-migration pass:
// for each degraded, spare-less array A, find a donor B that is
// optimal, shares A's spare-group, has >=1 spare passing A's
// spare-criteria and domain test. Only one migration per pass per
// recipient.
func PlanMigrations(arrays []ArrayStatus) []Migration {
	var out []Migration
	for _, a := range arrays {
		if a.SpareGroup == "" {
			continue
		}
		if !(a.Active < a.Raid && a.SpareCount == 0) {
			continue
		}

		donor, disk, ok := findDonor(arrays, a)
		if !ok {
			continue
		}
		out = append(out, Migration{Donor: donor, Recipient: a.Name, Disk: disk})
	}
	return out
}

func findDonor(arrays []ArrayStatus, recipient ArrayStatus) (donorName, disk string, ok bool) {
	for _, b := range arrays {
		if b.Name == recipient.Name || b.SpareGroup != recipient.SpareGroup {
			continue
		}
		if !b.optimal() || b.SpareCount < 1 {
			continue
		}
		for _, d := range b.SpareDisks {
			if recipient.Criteria != nil && !recipient.Criteria(d) {
				continue
			}
			if recipient.DomainOK != nil && !recipient.DomainOK(d) {
				continue
			}
			return b.Name, d, true
		}
	}
	return "", "", false
}
