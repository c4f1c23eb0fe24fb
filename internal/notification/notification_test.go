package notification

import "testing"

func TestAssignmentArgsRecord(t *testing.T) {
	t.Parallel()

	got := *assignmentArgs().Record()
	want := Record{
		FromUser:                "alice",
		ToUser:                  "bob",
		Type:                    "Assignment",
		Message:                 "m",
		NotificationText:        "t",
		NotificationTypeDoctype: "Task",
		NotificationTypeDoc:     "T-1",
		ReferenceDoctype:        "Task",
		ReferenceName:           "T-1",
	}
	if got != want {
		t.Errorf("Record() = %+v, want %+v", got, want)
	}
}

func TestAssignmentArgsIsSelfAssignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args AssignmentArgs
		want bool
	}{
		{name: "同じユーザーはtrue", args: AssignmentArgs{Owner: "alice", AssignedTo: "alice"}, want: true},
		{name: "異なるユーザーはfalse", args: AssignmentArgs{Owner: "alice", AssignedTo: "bob"}, want: false},
		{name: "どちらも空はtrue", args: AssignmentArgs{}, want: true},
		{name: "片方のみ空はfalse", args: AssignmentArgs{Owner: "alice"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.args.IsSelfAssignment(); got != tt.want {
				t.Errorf("IsSelfAssignment() = %v, want %v", got, tt.want)
			}
		})
	}
}
