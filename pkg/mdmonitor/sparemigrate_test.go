package mdmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanMigrationsFindsEligibleDonor(t *testing.T) {
	arrays := []ArrayStatus{
		{Name: "/dev/md0", SpareGroup: "g1", Active: 2, Raid: 3, SpareCount: 0},
		{Name: "/dev/md1", SpareGroup: "g1", Active: 3, Raid: 3, SpareCount: 1, SpareDisks: []string{"/dev/sdz"}},
	}
	migs := PlanMigrations(arrays)
	if assert.Len(t, migs, 1) {
		assert.Equal(t, "/dev/md1", migs[0].Donor)
		assert.Equal(t, "/dev/md0", migs[0].Recipient)
		assert.Equal(t, "/dev/sdz", migs[0].Disk)
	}
}

func TestPlanMigrationsSkipsWhenNoSharedSpareGroup(t *testing.T) {
	arrays := []ArrayStatus{
		{Name: "/dev/md0", SpareGroup: "g1", Active: 2, Raid: 3, SpareCount: 0},
		{Name: "/dev/md1", SpareGroup: "g2", Active: 3, Raid: 3, SpareCount: 1, SpareDisks: []string{"/dev/sdz"}},
	}
	assert.Empty(t, PlanMigrations(arrays))
}

func TestPlanMigrationsSkipsDonorThatIsNotOptimal(t *testing.T) {
	arrays := []ArrayStatus{
		{Name: "/dev/md0", SpareGroup: "g1", Active: 2, Raid: 3, SpareCount: 0},
		{Name: "/dev/md1", SpareGroup: "g1", Active: 2, Raid: 3, Degraded: true, SpareCount: 1, SpareDisks: []string{"/dev/sdz"}},
	}
	assert.Empty(t, PlanMigrations(arrays))
}

func TestPlanMigrationsHonoursCriteriaAndDomainRejection(t *testing.T) {
	arrays := []ArrayStatus{
		{
			Name: "/dev/md0", SpareGroup: "g1", Active: 2, Raid: 3, SpareCount: 0,
			Criteria: func(d string) bool { return false },
		},
		{Name: "/dev/md1", SpareGroup: "g1", Active: 3, Raid: 3, SpareCount: 1, SpareDisks: []string{"/dev/sdz"}},
	}
	assert.Empty(t, PlanMigrations(arrays))
}

func TestPlanMigrationsSkipsArraysNotSpareGroupEligible(t *testing.T) {
	arrays := []ArrayStatus{
		{Name: "/dev/md0", SpareGroup: "", Active: 2, Raid: 3, SpareCount: 0},
	}
	assert.Empty(t, PlanMigrations(arrays))
}

func TestPlanMigrationsSkipsArraysThatAreNotDegradedOrAlreadyHaveSpare(t *testing.T) {
	arrays := []ArrayStatus{
		{Name: "/dev/md0", SpareGroup: "g1", Active: 3, Raid: 3, SpareCount: 0},
		{Name: "/dev/md1", SpareGroup: "g1", Active: 2, Raid: 3, SpareCount: 1},
	}
	assert.Empty(t, PlanMigrations(arrays))
}
