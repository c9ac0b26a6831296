// Package chain describes the public side of a slot authority: what a client
// needs to seal to future slots and to verify released slot keys.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/drand/kyber"
	json "github.com/nikkolasg/hexjson"

	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/key"
)

// Info is the public information of a slot authority.
type Info struct {
	PublicKey   kyber.Point
	Scheme      string
	Period      time.Duration
	GenesisTime int64
	Prefix      string
}

// NewInfo makes an Info from the master public key and the release schedule.
func NewInfo(pub *key.MasterPublic, s *slot.Schedule) *Info {
	return &Info{
		PublicKey:   pub.Key,
		Scheme:      pub.Scheme.Name,
		Period:      s.Period,
		GenesisTime: s.Genesis,
		Prefix:      s.Prefix,
	}
}

// Hash returns the canonical hash of the information, usable to pin an
// authority.
func (i *Info) Hash() []byte {
	h := sha256.New()
	_ = binary.Write(h, binary.BigEndian, uint32(i.Period.Seconds()))
	_ = binary.Write(h, binary.BigEndian, i.GenesisTime)
	buff, _ := i.PublicKey.MarshalBinary()
	_, _ = h.Write(buff)
	_, _ = h.Write([]byte(i.Scheme))
	_, _ = h.Write([]byte(i.Prefix))
	return h.Sum(nil)
}

// HashString returns the value of Hash in string format
func (i *Info) HashString() string {
	return hex.EncodeToString(i.Hash())
}

// Equal indicates if two Info objects are equivalent
func (i *Info) Equal(o *Info) bool {
	return i.GenesisTime == o.GenesisTime &&
		i.Period == o.Period &&
		i.Scheme == o.Scheme &&
		i.Prefix == o.Prefix &&
		i.PublicKey.Equal(o.PublicKey)
}

// Schedule returns the release schedule described by the info.
func (i *Info) Schedule() *slot.Schedule {
	return &slot.Schedule{Genesis: i.GenesisTime, Period: i.Period, Prefix: i.Prefix}
}

// MasterPublic returns the master public key described by the info.
func (i *Info) MasterPublic() (*key.MasterPublic, error) {
	sch, err := crypto.SchemeFromName(i.Scheme)
	if err != nil {
		return nil, err
	}
	return &key.MasterPublic{Key: i.PublicKey, Scheme: sch}, nil
}

type infoJSON struct {
	PublicKey   []byte `json:"public_key"`
	Scheme      string `json:"scheme"`
	Period      int64  `json:"period"`
	GenesisTime int64  `json:"genesis_time"`
	Prefix      string `json:"prefix"`
	Hash        []byte `json:"hash"`
}

// MarshalJSON encodes the info with hex byte strings and the period in seconds.
func (i *Info) MarshalJSON() ([]byte, error) {
	raw, err := i.PublicKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("unable to marshal public key: %w", err)
	}
	return json.Marshal(&infoJSON{
		PublicKey:   raw,
		Scheme:      i.Scheme,
		Period:      int64(i.Period.Seconds()),
		GenesisTime: i.GenesisTime,
		Prefix:      i.Prefix,
		Hash:        i.Hash(),
	})
}

// UnmarshalJSON decodes the output of MarshalJSON and checks the advertised
// hash.
func (i *Info) UnmarshalJSON(data []byte) error {
	var v infoJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("not an info string: %w", err)
	}
	sch, err := crypto.SchemeFromName(v.Scheme)
	if err != nil {
		return fmt.Errorf("invalid scheme advertised: %w", err)
	}
	pk, err := crypto.UnmarshalPoint(sch.KeyGroup, v.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key %q: %w", sch.Name, err)
	}
	i.PublicKey = pk
	i.Scheme = sch.Name
	i.Period = time.Duration(v.Period) * time.Second
	i.GenesisTime = v.GenesisTime
	i.Prefix = v.Prefix
	if len(v.Hash) > 0 && !bytes.Equal(v.Hash, i.Hash()) {
		return fmt.Errorf("info hash mismatch")
	}
	return nil
}

// InfoFromJSON reads an Info from its JSON description.
func InfoFromJSON(r io.Reader) (*Info, error) {
	info := new(Info)
	if err := json.NewDecoder(r).Decode(info); err != nil {
		return nil, err
	}
	return info, nil
}

// ToJSON writes the JSON description of the info.
func (i *Info) ToJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(i)
}

// SlotKey is a released identity key.
type SlotKey struct {
	Round    uint64 `json:"round"`
	Identity string `json:"identity"`
	Key      []byte `json:"key"`
}
