package flow

import "github.com/edvengers/zera-pilot/internal/domain"

// Screen is what the browser renders. Game and stealth share ScreenHUD.
type Screen string

const (
	ScreenLogin       Screen = "login"
	ScreenCalibration Screen = "calibration"
	ScreenHUD         Screen = "hud"
)

// Panel selects the HUD input panel.
type Panel string

const (
	PanelWeapons  Panel = "weapons"
	PanelOverride Panel = "override"
)

// defaultHP is shown before the first session snapshot arrives.
const defaultHP = 100

// View is an immutable render snapshot of a student.
type View struct {
	Screen      Screen        `json:"screen"`
	StudentName string        `json:"student_name,omitempty"`
	Panel       Panel         `json:"panel,omitempty"`
	HP          int           `json:"hp"`
	MaxHP       int           `json:"max_hp"`
	Percent     float64       `json:"percent"`
	Feedback    string        `json:"feedback,omitempty"`
	Loading     bool          `json:"loading"`
	Log         []domain.Turn `json:"log,omitempty"`
}

// View returns the current render snapshot.
func (s *Student) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateLogin:
		return View{Screen: ScreenLogin}
	case StateCalibration:
		return View{Screen: ScreenCalibration, StudentName: s.name}
	}

	v := View{
		Screen:      ScreenHUD,
		StudentName: s.name,
		Panel:       PanelWeapons,
		HP:          defaultHP,
		MaxHP:       defaultHP,
		Percent:     100,
		Feedback:    s.feedback,
	}
	if s.session.Exists && s.session.Session != nil {
		v.HP = s.session.Session.CurrentHP
		v.MaxHP = s.session.Session.MaxHP
		v.Percent = s.session.Session.Percent()
	}
	if s.state == StateStealth {
		v.Panel = PanelOverride
		v.Loading = s.pending > 0
		v.Log = append([]domain.Turn(nil), s.transcript...)
	}
	return v
}
