//go:build nocgo

package playback

import (
	"context"
	"errors"

	"github.com/ent0n29/edvoice/internal/audio"
)

// OtoPlayer is unavailable without cgo.
type OtoPlayer struct{}

func NewOtoPlayer(int, audio.Decoder) *OtoPlayer { return &OtoPlayer{} }

func (p *OtoPlayer) Load(context.Context, []byte) (Media, error) {
	return nil, errors.New("audio playback not available in nocgo build")
}
