package cmis

import (
	"context"
	"strconv"
)

// GetContentChanges fetches one page of the change log starting at token.
// The server replays the last event of the previous page as the first
// element of the next one; callers are expected to drop it.
func (s *Session) GetContentChanges(ctx context.Context, token string, max int) (changes *ChangeList, err error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("token", token).
		SetQueryParam("max", strconv.Itoa(max)).
		SetSuccessResult(&changes).
		Get(v1Changes)

	if err := handleAPIError(res, err, "content changes"); err != nil {
		return nil, err
	}

	return changes, nil
}
