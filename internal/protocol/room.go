package protocol

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// RoomCodeLength is the fixed length of a room code.
const RoomCodeLength = 6

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NormalizeRoomCode upper-cases and trims a code and checks its shape.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != RoomCodeLength {
		return "", fmt.Errorf("room code must be %d characters, got %d", RoomCodeLength, len(code))
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("room code may only contain letters and digits")
		}
	}
	return code, nil
}

// GenerateRoomCode returns a random code without look-alike characters.
func GenerateRoomCode() string {
	var b strings.Builder
	for range RoomCodeLength {
		b.WriteByte(roomCodeAlphabet[randomIndex(len(roomCodeAlphabet))])
	}
	return b.String()
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("generate random index: %v", err))
	}
	return int(n.Int64())
}
