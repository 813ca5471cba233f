package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/bobmcallan/tally/internal/models"
)

// ContentHash computes the canonical SHA-256 hash of a position set.
// Positions are sorted lexicographically on (productId, positionType) and
// serialized as "productId|quantity|price|currency|positionType" lines, so
// the hash is invariant under permutation of the input. Two snapshots hash
// equal exactly when their position content is equal.
func (s *Service) ContentHash(input []models.SnapshotPosition) string {
	positions := make([]models.SnapshotPosition, len(input))
	copy(positions, input)

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].ProductID != positions[j].ProductID {
			return positions[i].ProductID < positions[j].ProductID
		}
		return positions[i].PositionType < positions[j].PositionType
	})

	var sb strings.Builder
	for _, p := range positions {
		sb.WriteString(p.ProductID)
		sb.WriteByte('|')
		sb.WriteString(plainNumber(p.Quantity))
		sb.WriteByte('|')
		sb.WriteString(plainNumber(p.Price))
		sb.WriteByte('|')
		sb.WriteString(p.Currency)
		sb.WriteByte('|')
		sb.WriteString(p.PositionType)
		sb.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// plainNumber renders a float without exponent notation so the same value
// always serializes identically.
func plainNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
