package wizard

import "errors"

// StubPrompter answers from fixed queues, in order per prompt kind.
type StubPrompter struct {
	Selects   []string
	Inputs    []string
	Passwords []string
	Confirms  []bool
}

var errNoAnswer = errors.New("stub prompter: no answer queued")

func (s *StubPrompter) AskSelect(_ string, _ []string, def string) (string, error) {
	if len(s.Selects) == 0 {
		return def, nil
	}
	v := s.Selects[0]
	s.Selects = s.Selects[1:]
	return v, nil
}

func (s *StubPrompter) AskInput(_ string, def string) (string, error) {
	if len(s.Inputs) == 0 {
		return def, nil
	}
	v := s.Inputs[0]
	s.Inputs = s.Inputs[1:]
	if v == "" {
		return def, nil
	}
	return v, nil
}

func (s *StubPrompter) AskPassword(string) (string, error) {
	if len(s.Passwords) == 0 {
		return "", errNoAnswer
	}
	v := s.Passwords[0]
	s.Passwords = s.Passwords[1:]
	return v, nil
}

func (s *StubPrompter) AskConfirm(_ string, def bool) (bool, error) {
	if len(s.Confirms) == 0 {
		return def, nil
	}
	v := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return v, nil
}
