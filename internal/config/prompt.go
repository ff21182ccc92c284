package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"golang.org/x/term"
)

var (
	formTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00E5FF")).
			Bold(true)

	formLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Width(18)

	formHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Italic(true)
)

// field pairs a label with a text input and the setter that writes the
// entered value back into the HostConfig.
type field struct {
	label  string
	input  textinput.Model
	secret bool
	apply  func(cfg *HostConfig, value string) error
}

// Interactive reports whether prompting is possible: stdin must be a
// terminal. Non-interactive invocations must fail fast instead of
// blocking on input.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PromptMissing solicits values for the required fields that are still
// unset. It returns ErrIncomplete without prompting when stdin is not a
// terminal.
func PromptMissing(cfg *HostConfig) error {
	missing := cfg.MissingFields()
	if len(missing) == 0 {
		return nil
	}
	if !Interactive() {
		return fmt.Errorf("%w: missing %s (run: sparkctl configure)",
			ErrIncomplete, strings.Join(missing, ", "))
	}

	var fields []field
	for _, name := range missing {
		switch name {
		case "username":
			fields = append(fields, usernameField(cfg))
		case "hostname":
			fields = append(fields, hostnameField(cfg))
		}
	}
	return runForm("Fleet configuration is incomplete", fields, cfg)
}

// PromptAll runs the full configure form, pre-filled with current
// values.
func PromptAll(cfg *HostConfig) error {
	if !Interactive() {
		return fmt.Errorf("%w: configure requires a terminal; pass flags instead", ErrIncomplete)
	}
	fields := []field{
		usernameField(cfg),
		hostnameField(cfg),
		peersField(cfg),
		modelField(cfg),
		portField(cfg),
		tpSizeField(cfg),
		tokenField(cfg),
	}
	return runForm("Configure the Spark fleet", fields, cfg)
}

func newInput(placeholder, value string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.SetWidth(48)
	ti.SetValue(value)
	return ti
}

func usernameField(cfg *HostConfig) field {
	return field{
		label: "username",
		input: newInput("login user on every node", cfg.Username),
		apply: func(c *HostConfig, v string) error {
			if v == "" {
				return fmt.Errorf("username must not be empty")
			}
			c.Username = v
			return nil
		},
	}
}

func hostnameField(cfg *HostConfig) field {
	return field{
		label: "manager host",
		input: newInput("spark-node1 or 192.168.100.10", cfg.Hostname),
		apply: func(c *HostConfig, v string) error {
			if v == "" {
				return fmt.Errorf("manager host must not be empty")
			}
			c.Hostname = v
			return nil
		},
	}
}

func peersField(cfg *HostConfig) field {
	return field{
		label: "peer hosts",
		input: newInput("comma-separated, blank for single node", strings.Join(cfg.Peers, ",")),
		apply: func(c *HostConfig, v string) error {
			c.Peers = splitPeers(v)
			return nil
		},
	}
}

func modelField(cfg *HostConfig) field {
	return field{
		label: "model",
		input: newInput("e.g. meta-llama/Llama-3.1-8B-Instruct", cfg.Model),
		apply: func(c *HostConfig, v string) error {
			c.Model = v
			return nil
		},
	}
}

func portField(cfg *HostConfig) field {
	val := ""
	if cfg.Port != 0 {
		val = strconv.Itoa(cfg.Port)
	}
	return field{
		label: "serve port",
		input: newInput("blank for 8000", val),
		apply: func(c *HostConfig, v string) error {
			if v == "" {
				c.Port = 0
				return nil
			}
			port, err := strconv.Atoi(v)
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("port must be 1-65535")
			}
			c.Port = port
			return nil
		},
	}
}

func tpSizeField(cfg *HostConfig) field {
	val := ""
	if cfg.TPSize != 0 {
		val = strconv.Itoa(cfg.TPSize)
	}
	return field{
		label: "tp size",
		input: newInput("tensor parallel size, blank for 1", val),
		apply: func(c *HostConfig, v string) error {
			if v == "" {
				c.TPSize = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("tp size must be a positive integer")
			}
			c.TPSize = n
			return nil
		},
	}
}

func tokenField(cfg *HostConfig) field {
	f := field{
		label:  "hf token",
		input:  newInput("blank to keep unset", cfg.HFToken),
		secret: true,
		apply: func(c *HostConfig, v string) error {
			if v != "" {
				c.HFToken = v
			}
			return nil
		},
	}
	f.input.EchoMode = textinput.EchoPassword
	return f
}

// errFormAborted is returned when the operator cancels the form.
var errFormAborted = errors.New("configuration cancelled")

func runForm(title string, fields []field, cfg *HostConfig) error {
	m := formModel{title: title, fields: fields}
	m.fields[0].input.Focus()

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("run configure form: %w", err)
	}
	fm := final.(formModel)
	if fm.aborted {
		return errFormAborted
	}
	if fm.err != nil {
		return fm.err
	}
	for i := range fm.fields {
		if err := fm.fields[i].apply(cfg, strings.TrimSpace(fm.fields[i].input.Value())); err != nil {
			return err
		}
	}
	return nil
}

// formModel is a minimal vertical form: enter advances, the last enter
// submits, escape aborts.
type formModel struct {
	title   string
	fields  []field
	focus   int
	aborted bool
	done    bool
	err     error
}

func (m formModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyPressMsg); ok {
		k := key.Key()
		switch {
		case key.String() == "ctrl+c", k.Code == tea.KeyEscape:
			m.aborted = true
			return m, tea.Quit
		case k.Code == tea.KeyEnter, k.Code == tea.KeyTab:
			if k.Code == tea.KeyEnter && m.focus == len(m.fields)-1 {
				m.done = true
				return m, tea.Quit
			}
			m.fields[m.focus].input.Blur()
			m.focus = (m.focus + 1) % len(m.fields)
			return m, m.fields[m.focus].input.Focus()
		}
	}

	var cmd tea.Cmd
	m.fields[m.focus].input, cmd = m.fields[m.focus].input.Update(msg)
	return m, cmd
}

func (m formModel) View() tea.View {
	var b strings.Builder
	b.WriteString(formTitleStyle.Render(m.title))
	b.WriteString("\n\n")
	for i := range m.fields {
		b.WriteString(formLabelStyle.Render(m.fields[i].label))
		b.WriteString(m.fields[i].input.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(formHintStyle.Render("enter: next/submit  tab: next  esc: cancel"))
	b.WriteString("\n")
	return tea.NewView(b.String())
}
