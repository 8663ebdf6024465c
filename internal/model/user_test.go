package model

import "testing"

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		role     string
		minimum  string
		expected bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleLibrarian, true},
		{RoleAdmin, RolePatron, true},
		{RoleLibrarian, RoleAdmin, false},
		{RoleLibrarian, RoleLibrarian, true},
		{RoleLibrarian, RolePatron, true},
		{RolePatron, RoleAdmin, false},
		{RolePatron, RoleLibrarian, false},
		{RolePatron, RolePatron, true},
		// Unknown roles fail-closed.
		{"unknown", RolePatron, false},
		{RoleAdmin, "unknown", false},
		{"", "", false},
		{"", RolePatron, false},
	}

	for _, tt := range tests {
		got := RoleAtLeast(tt.role, tt.minimum)
		if got != tt.expected {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tt.role, tt.minimum, got, tt.expected)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"", true},
		{"short", true},
		{"1234567", true},
		{"12345678", false},
		{"a-valid-password", false},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}

func TestIdentityIsStaff(t *testing.T) {
	if (Identity{Role: RolePatron}).IsStaff() {
		t.Error("patron should not be staff")
	}
	if !(Identity{Role: RoleLibrarian}).IsStaff() {
		t.Error("librarian should be staff")
	}
	if !(Identity{Role: RoleAdmin}).IsStaff() {
		t.Error("admin should be staff")
	}
}
