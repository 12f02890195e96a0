package trace

import "testing"

func TestFeatureFlagsAnyPerInstruction(t *testing.T) {
	cases := []struct {
		f    FeatureFlags
		want bool
	}{
		{0, false},
		{FlagSyscalls, false},
		{FlagPC, true},
		{FlagMem, true},
		{FlagInstrs, true},
		{FlagBranches, true},
		{FlagPC | FlagSyscalls, true},
	}
	for _, c := range cases {
		if got := c.f.AnyPerInstruction(); got != c.want {
			t.Errorf("(%s).AnyPerInstruction() = %v, want %v", c.f, got, c.want)
		}
	}
}

func TestFeatureFlagsBranchOnly(t *testing.T) {
	cases := []struct {
		f    FeatureFlags
		want bool
	}{
		{FlagBranches, true},
		{FlagBranches | FlagPC, false},
		{FlagBranches | FlagMem, false},
		{FlagBranches | FlagInstrs, false},
		{FlagPC, false},
		{0, false},
	}
	for _, c := range cases {
		if got := c.f.BranchOnly(); got != c.want {
			t.Errorf("(%s).BranchOnly() = %v, want %v", c.f, got, c.want)
		}
	}
}

func TestFeatureFlagsString(t *testing.T) {
	if got := FeatureFlags(0).String(); got != "none" {
		t.Errorf("String() = %q, want %q", got, "none")
	}
	if got := (FlagPC | FlagSyscalls).String(); got != "pc|syscalls" {
		t.Errorf("String() = %q, want %q", got, "pc|syscalls")
	}
}
