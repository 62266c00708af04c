package dkg

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
)

var ErrSessionNotFound = errors.New("deal session not found")

const magicDeal uint32 = 0x44444c53 // 'DDLS'

// dealState keeps the dealer's bivariate polynomial so a restarted node
// re-deals the same secret instead of a fresh one.
type dealState struct {
	Threshold int      `json:"threshold"`
	Coeffs    [][]byte `json:"coeffs"`
}

type SessionStore struct {
	mu  sync.Mutex
	dir string
}

func NewSessionStore(dir string) *SessionStore { return &SessionStore{dir: dir} }

func (s *SessionStore) pathFor(id string) string {
	return filepath.Join(s.dir, "dkg_deal_"+id+".dat")
}

func (s *SessionStore) save(id string, st dealState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFrame(s.pathFor(id), magicDeal, 0, body)
}

func (s *SessionStore) load(id string) (dealState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathFor(id)
	for _, path := range []string{p, p + ".bak"} {
		_, body, err := readFrame(path, magicDeal)
		if err != nil {
			continue
		}
		var st dealState
		if err := json.Unmarshal(body, &st); err == nil {
			return st, nil
		}
	}
	return dealState{}, ErrSessionNotFound
}
