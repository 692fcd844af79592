package profileapi

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/okian/liscrape/internal/domain/model"
)

// SampleFetcher returns a fixed synthetic profile with a random DEBUG-<n>
// id, for running the pipeline without network access.
type SampleFetcher struct{}

func (SampleFetcher) FetchProfile(_ context.Context, _ model.ProfileID) (model.RawProfile, error) {
	return model.RawProfile{
		FirstName:    model.Set("SpongeBob"),
		LastName:     model.Set("SquarePants"),
		IndustryName: model.Set("Fry cook"),
		ProfileID:    model.Set(fmt.Sprintf("DEBUG-%d", rand.IntN(100000))),
	}, nil
}

func (SampleFetcher) FetchContactInfo(_ context.Context, _ model.ProfileID) (model.RawContactInfo, error) {
	return model.RawContactInfo{
		EmailAddress: model.Set("squarepants@bikinibottom.com"),
		PhoneNumbers: model.Set([]any{map[string]any{"number": "+001", "type": "MOBILE"}}),
	}, nil
}
