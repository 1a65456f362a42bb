package model

const ProviderSpotify = "spotify"

type FeedbackType string

const (
	FeedbackSkip     FeedbackType = "skip"
	FeedbackComplete FeedbackType = "complete"
	FeedbackLike     FeedbackType = "like"
	FeedbackDislike  FeedbackType = "dislike"
)

func FeedbackTypes() []string {
	return []string{
		string(FeedbackSkip),
		string(FeedbackComplete),
		string(FeedbackLike),
		string(FeedbackDislike),
	}
}

type MixPhase string

const (
	PhaseWarmUp   MixPhase = "Warm-up"
	PhasePeak     MixPhase = "Peak"
	PhaseCoolDown MixPhase = "Cool-down"
)
