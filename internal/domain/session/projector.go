package session

import "fmt"

// Row is one rendered queue entry.
type Row struct {
	Index   int    // 1-based display position
	Label   string // title, falling back to url
	Playing bool   // weak-identity match against the current track
}

// ViewModel is the presentation-ready projection of one Snapshot. It is a
// plain value; producing it has no side effects and no I/O.
type ViewModel struct {
	Rows            []Row
	Elapsed         string // M:SS
	Duration        string // M:SS
	Percent         float64
	Paused          bool
	RepeatAll       bool
	Thumbnail       string
	ControlsEnabled bool
}

// Project derives the view model for a snapshot. Transport controls are
// enabled as a unit iff groupID is non-empty. Calling Project twice on the
// same inputs yields the same ViewModel.
func Project(snap Snapshot, groupID string) ViewModel {
	vm := ViewModel{
		Paused:          snap.IsPaused,
		RepeatAll:       snap.RepeatAll,
		Thumbnail:       snap.Thumbnail,
		ControlsEnabled: groupID != "",
		Elapsed:         FormatClock(0),
		Duration:        FormatClock(0),
	}

	for i, track := range snap.Queue {
		row := Row{
			Index: i + 1,
			Label: trackLabel(track),
		}
		if snap.Current != nil {
			row.Playing = SameTrack(*snap.Current, track)
		}
		vm.Rows = append(vm.Rows, row)
	}

	if snap.Progress != nil {
		vm.Elapsed = FormatClock(snap.Progress.Elapsed)
		vm.Duration = FormatClock(snap.Progress.Duration)
		// Guard the zero/absent duration case explicitly: percent is 0,
		// never NaN.
		if snap.Progress.Duration > 0 {
			vm.Percent = snap.Progress.Elapsed / snap.Progress.Duration * 100
			if vm.Percent > 100 {
				vm.Percent = 100
			}
		}
	}

	return vm
}

// FormatClock renders a second count as M:SS. Negative values clamp to 0:00.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func trackLabel(t Track) string {
	if t.Title != "" {
		return t.Title
	}
	if t.URL != "" {
		return t.URL
	}
	return "Untitled"
}
