package process

import "testing"

func TestValidTransition_TableMatchesSpec(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Created, Running, true},
		{Running, Sleeping, true},
		{Sleeping, Running, true},
		{Running, Stopped, true},
		{Stopped, Running, true},
		{Running, Paused, true},
		{Paused, Running, true},
		{Running, Zombie, true},
		{Sleeping, Zombie, true},
		{Stopped, Zombie, true},
		{Paused, Zombie, true},
		{Created, Zombie, true},
		{Zombie, Dead, true},
		{Created, Stopped, false},
		{Dead, Running, false},
		{Dead, Zombie, false},
		{Running, Created, false},
	}
	for _, c := range cases {
		if got := validTransition(c.from, c.to); got != c.want {
			t.Errorf("validTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
