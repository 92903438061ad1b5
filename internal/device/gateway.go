package device

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SendFunc delivers an encoded write command to the gateway's last known
// address on the transport's command port. Injected by the host.
type SendFunc func(addr string, payload []byte) error

// gatewayKeyIV is the fixed initialization vector for the per-command
// key derivation. Part of the gateway wire protocol, not a secret.
var gatewayKeyIV = []byte{
	0x17, 0x99, 0x6d, 0x09, 0x3d, 0x28, 0xdd, 0xb3,
	0xba, 0x69, 0x5a, 0x2e, 0x6f, 0x58, 0x56, 0x2e,
}

// stopTrackID is the reserved track id that silences the gateway speaker.
const stopTrackID = 10000

// maxVolume caps the gateway speaker volume.
const maxVolume = 100

// Gateway is the outbound command surface of a gateway device. Commands
// require a session token (delivered in gateway heartbeats) and a
// configured shared secret; each command derives a one-shot key from the
// two and hands the encoded write packet to the injected transport.
type Gateway struct {
	device *Device
	token  string
	secret string
	send   SendFunc
}

// SetSecret configures the shared secret used for key derivation.
// The secret is set per installation in the gateway's companion app.
func (g *Gateway) SetSecret(secret string) {
	g.secret = secret
}

// SetSender injects the outbound transport callback.
func (g *Gateway) SetSender(send SendFunc) {
	g.send = send
}

// Ready reports whether a session token has been received.
func (g *Gateway) Ready() bool {
	return g.token != ""
}

// setToken records the rolling session token from a gateway-origin packet.
func (g *Gateway) setToken(token string) {
	g.token = token
}

// SetColor sets the gateway's RGB ring. Each component must be 0-255;
// out-of-range components fail with ErrInvalidColorComponent before any
// transport work happens.
func (g *Gateway) SetColor(brightness, red, green, blue int) error {
	for _, component := range []int{brightness, red, green, blue} {
		if component < 0 || component > 255 {
			return fmt.Errorf("%w: %d", ErrInvalidColorComponent, component)
		}
	}

	packed := uint32(brightness)<<24 | uint32(red)<<16 | uint32(green)<<8 | uint32(blue)
	return g.writeCommand(map[string]any{"rgb": packed})
}

// SetVolume sets the gateway speaker volume (0-100).
func (g *Gateway) SetVolume(volume int) error {
	if volume < 0 || volume > maxVolume {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	return g.writeCommand(map[string]any{"vol": volume})
}

// PlayTrack plays one of the gateway's built-in tracks at the given
// volume (0-100).
func (g *Gateway) PlayTrack(trackID, volume int) error {
	if volume < 0 || volume > maxVolume {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	return g.writeCommand(map[string]any{"mid": trackID, "vol": volume})
}

// StopTrack silences the gateway speaker.
func (g *Gateway) StopTrack() error {
	return g.writeCommand(map[string]any{"mid": stopTrackID})
}

// writeCommand derives the per-command key, assembles the write packet
// and hands it to the injected transport.
func (g *Gateway) writeCommand(data map[string]any) error {
	if g.token == "" {
		return ErrGatewayNotReady
	}
	if g.secret == "" {
		return ErrGatewayNotConfigured
	}
	if g.send == nil {
		return ErrNoCommandSender
	}

	key, err := deriveCommandKey(g.secret, g.token)
	if err != nil {
		return err
	}
	data["key"] = key

	payload, err := json.Marshal(map[string]any{
		"cmd":      CmdWrite,
		"model":    g.device.Model,
		"sid":      g.device.SID,
		"short_id": g.device.ShortID,
		"data":     data,
	})
	if err != nil {
		return fmt.Errorf("encoding write command: %w", err)
	}

	return g.send(g.addr(), payload)
}

// addr returns the gateway's last reported IP address, or "" if the ip
// capability has not reported yet (the transport then falls back to its
// configured gateway address).
func (g *Gateway) addr() string {
	capData := g.device.Capability(CapIP)
	if capData == nil {
		return ""
	}
	v, ok := capData.LastValue()
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// deriveCommandKey encrypts the session token with the shared secret
// under AES-128-CBC with the protocol's fixed IV and returns the result
// hex-encoded. Both secret and token must be exactly one AES block.
func deriveCommandKey(secret, token string) (string, error) {
	if len(secret) != aes.BlockSize {
		return "", fmt.Errorf("%w: secret must be %d bytes", ErrInvalidKeyMaterial, aes.BlockSize)
	}
	if len(token) != aes.BlockSize {
		return "", fmt.Errorf("%w: token must be %d bytes", ErrInvalidKeyMaterial, aes.BlockSize)
	}

	block, err := aes.NewCipher([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	out := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, gatewayKeyIV).CryptBlocks(out, []byte(token))
	return hex.EncodeToString(out), nil
}
