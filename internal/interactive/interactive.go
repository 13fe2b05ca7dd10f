package interactive

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/encoding"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/skratchdot/open-golang/open"

	"masgo.app/masgo/internal/api"
)

// Session is the read-only view of the selection controller the screen
// renders from.
type Session interface {
	SelectedPlayer() *api.Player
	CurrentTrack(playerID string) *api.Track
}

// Transport routes the screen's key commands to the server.
type Transport interface {
	PausePlayer(ctx context.Context, playerID string) error
	ResumePlayer(ctx context.Context, playerID string) error
	NextTrack(ctx context.Context, playerID string) error
	PreviousTrack(ctx context.Context, playerID string) error
	SetVolume(ctx context.Context, playerID string, level int) error
}

// NewScreen is the interactive now-playing terminal surface.
type NewScreen struct {
	Current   tcell.Screen
	Session   Session
	Transport Transport
	WebURL    string

	lastStatus string
}

// InitTcellNewScreen .
func InitTcellNewScreen() (*NewScreen, error) {
	s, e := tcell.NewScreen()
	if e != nil {
		return nil, errors.New("can't start new interactive screen")
	}
	return &NewScreen{
		Current: s,
	}, nil
}

func (p *NewScreen) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

// Redraw repaints the whole screen from the current session state.
// Safe to call from the selection controller's change observer.
func (p *NewScreen) Redraw() {
	s := p.Current
	w, h := s.Size()

	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)

	s.Clear()

	player := p.Session.SelectedPlayer()
	if player == nil {
		msg := "No player selected. Waiting for directory..."
		p.emitStr(w/2-len(msg)/2, h/2, tcell.StyleDefault, msg)
		p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to exit.")
		s.Show()
		return
	}

	title := fmt.Sprintf("Player: %s [%s]", player.DisplayName, player.State)
	p.emitStr(w/2-len(title)/2, h/2-3, boldStyle, title)

	nowPlaying := "Nothing playing"
	if track := p.Session.CurrentTrack(player.PlayerID); track != nil {
		artists := make([]string, 0, len(track.Artists))
		for _, a := range track.Artists {
			artists = append(artists, a.Name)
		}
		nowPlaying = track.Name
		if len(artists) > 0 {
			nowPlaying = strings.Join(artists, ", ") + " - " + track.Name
		}
	}
	p.emitStr(w/2-runewidth.StringWidth(nowPlaying)/2, h/2-1, tcell.StyleDefault, nowPlaying)

	volume := fmt.Sprintf("Volume: %d%%", player.VolumeLevel)
	if player.VolumeMuted {
		volume += " (muted)"
	}
	p.emitStr(w/2-len(volume)/2, h/2+1, tcell.StyleDefault, volume)

	if p.lastStatus != "" {
		p.emitStr(w/2-len(p.lastStatus)/2, h/2+3, tcell.StyleDefault, p.lastStatus)
	}

	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to exit.")
	help := "p: Play/Pause  n: Next  b: Previous  +/-: Volume  o: Open Web UI"
	p.emitStr(w/2-len(help)/2, h-2, tcell.StyleDefault, help)

	s.Show()
}

// EmitMsg shows a transient status line on the next repaint.
func (p *NewScreen) EmitMsg(msg string) {
	p.lastStatus = msg
	p.Redraw()
}

// InterInit starts the interactive terminal and blocks on its event
// loop until the user exits or ctx is cancelled.
func (p *NewScreen) InterInit(ctx context.Context) error {
	encoding.Register()
	s := p.Current
	if err := s.Init(); err != nil {
		return fmt.Errorf("InterInit screen error: %w", err)
	}

	defStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite)
	s.SetStyle(defStyle)

	p.Redraw()

	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.PostEvent(tcell.NewEventInterrupt(nil))
		case <-quit:
		}
	}()
	defer close(quit)

	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventInterrupt:
			s.Fini()
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.Redraw()
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape {
				s.Fini()
				return nil
			}
			p.handleKey(ctx, ev.Rune())
		}
	}
}

func (p *NewScreen) handleKey(ctx context.Context, r rune) {
	player := p.Session.SelectedPlayer()
	if player == nil {
		return
	}

	var err error
	switch r {
	case 'p':
		if player.State == api.StatePlaying {
			err = p.Transport.PausePlayer(ctx, player.PlayerID)
		} else {
			err = p.Transport.ResumePlayer(ctx, player.PlayerID)
		}
	case 'n':
		err = p.Transport.NextTrack(ctx, player.PlayerID)
	case 'b':
		err = p.Transport.PreviousTrack(ctx, player.PlayerID)
	case '+', '=':
		err = p.Transport.SetVolume(ctx, player.PlayerID, clampVolume(player.VolumeLevel+5))
	case '-':
		err = p.Transport.SetVolume(ctx, player.PlayerID, clampVolume(player.VolumeLevel-5))
	case 'o':
		if p.WebURL != "" {
			err = open.Run(p.WebURL)
		}
	default:
		return
	}

	if err != nil {
		p.EmitMsg("Command failed: " + err.Error())
		return
	}
	p.Redraw()
}

func clampVolume(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// Fini releases the screen.
func (p *NewScreen) Fini() {
	p.Current.Fini()
}
