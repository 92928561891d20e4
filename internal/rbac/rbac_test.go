package rbac

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleOwner, ActionManage, true},
		{RoleAdmin, ActionManage, true},
		{RoleAdmin, ActionPublish, true},
		{RoleEditor, ActionRead, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionPublish, true},
		{RoleEditor, ActionManage, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{Role("unknown"), ActionRead, false},
	}
	for _, tt := range tests {
		if got := Can(tt.role, tt.action); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("editor"); got != RoleEditor {
		t.Errorf("Normalize(editor) = %s", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Errorf("Normalize(superuser) = %s, want viewer fallback", got)
	}
	if got := Normalize(""); got != RoleViewer {
		t.Errorf("Normalize(empty) = %s, want viewer fallback", got)
	}
}
