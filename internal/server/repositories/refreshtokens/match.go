package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/cryptox"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
)

// MatchResult describes one presentation-matching scan.
type MatchResult struct {
	Token *models.RefreshToken
	// Scanned is the number of candidates compared before returning.
	Scanned int
	// Candidates is the size of the candidate set.
	Candidates int
}

// Found reports whether a record matched.
func (m MatchResult) Found() bool { return m.Token != nil }

// Match finds the active record whose hash matches the presented plaintext.
//
// Only hashes are stored, so there is nothing to index by: the candidate set
// is every active record (scoped to userID when given) and each one is
// compared with the hasher. Each comparison is constant-time, but the number
// of candidates is not hidden and shows up in the response time.
//
// No match is a normal outcome and is reported through MatchResult.Found;
// the error is reserved for store failures.
func Match(ctx context.Context, repo Repository, hasher cryptox.Hasher, presented string, userID string, now time.Time) (MatchResult, error) {
	candidates, err := repo.ListActive(ctx, userID, now)
	if err != nil {
		return MatchResult{}, err
	}

	res := MatchResult{Candidates: len(candidates)}
	secret := []byte(presented)
	for _, c := range candidates {
		res.Scanned++
		if hasher.Matches(c.TokenHash, secret) {
			res.Token = c
			return res, nil
		}
	}
	return res, nil
}
