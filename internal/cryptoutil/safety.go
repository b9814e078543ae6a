// Package cryptoutil reúne as funções criptográficas do lado servidor.
// O servidor nunca toca no conteúdo dos arquivos: a criptografia E2E
// acontece no cliente. Aqui ficam só os utilitários de verificação de
// identidade e geração de códigos.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Alfabeto sem caracteres ambíguos (nada de 0/O nem 1/I/L)
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// NewRoomCode gera um código de sala legível de 6 caracteres
func NewRoomCode() (string, error) {
	max := big.NewInt(int64(len(roomCodeAlphabet)))

	var b strings.Builder
	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("falha ao gerar código de sala: %w", err)
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewInviteCode gera um código de convite aleatório em base64 URL-safe
func NewInviteCode() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("falha ao gerar código de convite: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// SafetyNumber deriva o número de segurança de um par de chaves públicas
// (base64). As chaves são ordenadas antes do hash, então os dois lados
// calculam o mesmo valor independente de quem chama com qual ordem.
// Resultado: 6 grupos de 5 dígitos separados por espaço, derivados dos
// 30 primeiros bytes do SHA-256 da concatenação.
func SafetyNumber(publicKeyA, publicKeyB string) string {
	keys := []string{publicKeyA, publicKeyB}
	sort.Strings(keys)

	digest := sha256.Sum256([]byte(keys[0] + keys[1]))

	groups := make([]string, 0, 6)
	for i := 0; i < 30; i += 5 {
		// 5 bytes big-endian viram um número de 5 dígitos
		var chunk uint64
		for _, b := range digest[i : i+5] {
			chunk = chunk<<8 | uint64(b)
		}
		groups = append(groups, fmt.Sprintf("%05d", chunk%100000))
	}
	return strings.Join(groups, " ")
}

// Conjunto fixo de emojis visualmente distintos para fingerprints
var fingerprintEmojis = []string{
	"🔐", "🔑", "🛡️", "⚡", "🌟", "🎯", "🚀", "💎",
	"🔮", "🌈", "🎪", "🎭", "🎨", "🎸", "🎺", "🎻",
	"🌺", "🌸", "🌼", "🌻", "🍀", "🌴", "🌵", "🎄",
	"🦊", "🦁", "🐯", "🦄", "🐲", "🦅", "🦋", "🐙",
}

// EmojiFingerprint seleciona 8 emojis determinísticos a partir do
// SHA-256 da chave pública decodificada, para verificação visual
func EmojiFingerprint(publicKey string) ([]string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("chave pública não é base64 válido: %w", err)
	}

	digest := sha256.Sum256(raw)

	fingerprint := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		fingerprint = append(fingerprint, fingerprintEmojis[int(digest[i])%len(fingerprintEmojis)])
	}
	return fingerprint, nil
}
