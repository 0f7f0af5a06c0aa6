package policy

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// allSnapshots enumerates every snapshot of up to maxLen rows over the visible/clearable flags.
func allSnapshots(maxLen int) []Snapshot {
	rows := []Notification{
		{Visible: false, Clearable: false},
		{Visible: false, Clearable: true},
		{Visible: true, Clearable: false},
		{Visible: true, Clearable: true},
	}
	result := []Snapshot{nil}
	current := []Snapshot{{}}
	for i := 0; i < maxLen; i++ {
		var next []Snapshot
		for _, s := range current {
			for _, row := range rows {
				grown := append(append(Snapshot{}, s...), row)
				next = append(next, grown)
			}
		}
		result = append(result, next...)
		current = next
	}
	return result
}

func TestMayTrigger(t *testing.T) {
	snapshots := allSnapshots(3)

	t.Run("always allowed allows every snapshot", func(t *testing.T) {
		req := require.New(t)
		for _, s := range snapshots {
			req.True(MayTrigger(AlwaysAllowed, s))
		}
	})

	t.Run("require no notifications allows iff nothing is visible", func(t *testing.T) {
		req := require.New(t)
		for _, s := range snapshots {
			anyVisible := false
			for _, n := range s {
				anyVisible = anyVisible || n.Visible
			}
			req.Equal(!anyVisible, MayTrigger(RequireNoNotifications, s), "snapshot %+v", s)
		}
	})

	t.Run("require no clearable notifications allows iff nothing is visible and clearable", func(t *testing.T) {
		req := require.New(t)
		for _, s := range snapshots {
			anyClearable := false
			for _, n := range s {
				anyClearable = anyClearable || (n.Visible && n.Clearable)
			}
			req.Equal(!anyClearable, MayTrigger(RequireNoClearableNotifications, s), "snapshot %+v", s)
		}
	})

	t.Run("a hidden clearable row does not count", func(t *testing.T) {
		req := require.New(t)
		s := Snapshot{{Key: "mail", Visible: false, Clearable: true}, {Key: "music", Visible: true, Clearable: false}}
		req.True(MayTrigger(RequireNoClearableNotifications, s))
		req.False(MayTrigger(RequireNoNotifications, s))

		visible, clearable := s.Counts()
		req.Equal(1, visible)
		req.Equal(0, clearable)
	})
}

func TestTriggerPolicyText(t *testing.T) {
	t.Run("legacy preference values are accepted", func(t *testing.T) {
		req := require.New(t)
		var p TriggerPolicy

		req.NoError(p.UnmarshalText([]byte("NOTIF_NONE")))
		req.Equal(RequireNoNotifications, p)
		req.NoError(p.UnmarshalText([]byte("NOTIF_ONGOING")))
		req.Equal(RequireNoClearableNotifications, p)
		req.NoError(p.UnmarshalText([]byte("DEFAULT")))
		req.Equal(AlwaysAllowed, p)
	})

	t.Run("go names round trip", func(t *testing.T) {
		req := require.New(t)
		for _, expected := range []TriggerPolicy{AlwaysAllowed, RequireNoNotifications, RequireNoClearableNotifications} {
			text, err := expected.MarshalText()
			req.NoError(err)

			var p TriggerPolicy
			req.NoError(p.UnmarshalText(text))
			req.Equal(expected, p)
		}
	})

	t.Run("unknown values are rejected", func(t *testing.T) {
		req := require.New(t)
		var p TriggerPolicy
		req.Error(p.UnmarshalText([]byte("sometimes")))

		_, err := TriggerPolicy(42).MarshalText()
		req.Error(err)
	})
}

func TestEvaluator(t *testing.T) {
	busy := SourceFunc(func() (Snapshot, error) {
		return Snapshot{{Key: "sms", Visible: true, Clearable: true}}, nil
	})

	broken := SourceFunc(func() (Snapshot, error) {
		return nil, errors.New("stack scroller not attached")
	})

	t.Run("always allowed never asks the source", func(t *testing.T) {
		req := require.New(t)
		calls := 0
		source := SourceFunc(func() (Snapshot, error) {
			calls++
			return nil, nil
		})
		req.True(NewEvaluator(source).MayTrigger(AlwaysAllowed))
		req.Equal(0, calls)
	})

	t.Run("a fresh snapshot is taken for every decision", func(t *testing.T) {
		req := require.New(t)
		calls := 0
		source := SourceFunc(func() (Snapshot, error) {
			calls++
			if calls == 1 {
				return Snapshot{{Visible: true}}, nil
			}
			return Snapshot{}, nil
		})
		evaluator := NewEvaluator(source)
		req.False(evaluator.MayTrigger(RequireNoNotifications))
		req.True(evaluator.MayTrigger(RequireNoNotifications))
		req.Equal(2, calls)
	})

	t.Run("a busy stack denies", func(t *testing.T) {
		req := require.New(t)
		req.False(NewEvaluator(busy).MayTrigger(RequireNoClearableNotifications))
	})

	t.Run("a failing source fails open by default", func(t *testing.T) {
		req := require.New(t)
		req.True(NewEvaluator(broken).MayTrigger(RequireNoNotifications))
	})

	t.Run("a panicking source fails open by default", func(t *testing.T) {
		req := require.New(t)
		source := SourceFunc(func() (Snapshot, error) { panic("nil view") })
		req.True(NewEvaluator(source).MayTrigger(RequireNoNotifications))
	})

	t.Run("a missing source fails open by default", func(t *testing.T) {
		req := require.New(t)
		req.True(NewEvaluator(nil).MayTrigger(RequireNoNotifications))
	})

	t.Run("a failing source denies when fail closed", func(t *testing.T) {
		req := require.New(t)
		req.False(NewFailClosedEvaluator(broken).MayTrigger(RequireNoNotifications))
	})
}
