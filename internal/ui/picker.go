package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrNothingToPick is returned when the picker has no items.
var ErrNothingToPick = errors.New("no items to pick from")

// PickerItem is one entry shown in the interactive picker.
type PickerItem struct {
	Label    string // primary text (wallet name)
	SubLabel string // secondary text shown dimmed (address)
	Value    string // value returned on selection
}

// pickerModel is the Bubble Tea model for the interactive list picker.
// Digits 1-9 jump straight to an item.
type pickerModel struct {
	title    string
	items    []PickerItem
	cursor   int
	selected *PickerItem
	quitting bool
}

func newPicker(title string, items []PickerItem) pickerModel {
	return pickerModel{title: title, items: items}
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch s := key.String(); s {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(len(m.items)-1, 0)
	case "enter", " ":
		return m.choose(m.cursor)
	default:
		if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			return m.choose(int(s[0] - '1'))
		}
	}
	return m, nil
}

func (m pickerModel) choose(i int) (tea.Model, tea.Cmd) {
	if i < 0 || i >= len(m.items) {
		return m, nil
	}
	item := m.items[i]
	m.cursor = i
	m.selected = &item
	return m, tea.Quit
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(StyleTitle.Render("  "+m.title) + "\n\n")

	for i, item := range m.items {
		prefix := fmt.Sprintf("  %d ", i+1)
		if i >= 9 {
			prefix = "    "
		}
		if i == m.cursor {
			prefix = "  ▸ "
		}

		line := prefix + StyleValue.Render(item.Label)
		if item.SubLabel != "" {
			line += "  " + StyleMeta.Render(item.SubLabel)
		}

		if i == m.cursor {
			sb.WriteString(StyleSelected.Render(line) + "\n")
		} else {
			sb.WriteString(line + "\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(StyleMeta.Render("  [ ↑↓ / jk ] navigate   [ 1-9 / Enter ] select   [ q ] cancel") + "\n")
	return sb.String()
}

// PickItem runs an interactive list picker and returns the selected item's Value.
// Returns ("", nil) if the user cancels. Returns an error only on TUI failure.
func PickItem(title string, items []PickerItem, opts ...tea.ProgramOption) (string, error) {
	if len(items) == 0 {
		return "", ErrNothingToPick
	}

	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	final, err := tea.NewProgram(newPicker(title, items), opts...).Run()
	if err != nil {
		return "", fmt.Errorf("picker: %w", err)
	}

	fm := final.(pickerModel)
	if fm.quitting || fm.selected == nil {
		return "", nil
	}
	return fm.selected.Value, nil
}
