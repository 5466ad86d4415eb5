package gameflow

import "github.com/quizlive/engine/internal/api"

// Phase is one discrete stage of a question's life cycle.
type Phase string

const (
	PhaseWaiting      Phase = "waiting"
	PhaseCountdown    Phase = "countdown"
	PhaseQuestion     Phase = "question"
	PhaseAnswering    Phase = "answering"
	PhaseAnswerReveal Phase = "answer_reveal"
	PhaseLeaderboard  Phase = "leaderboard"
	PhaseExplanation  Phase = "explanation"
	PhasePodium       Phase = "podium"
	PhaseEnded        Phase = "ended"
)

// Game status values reported in authoritative snapshots.
const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// DerivePhase derives the current phase from an authoritative snapshot.
// It is a pure function of the snapshot's field combinations and is the
// single source of truth whenever the locally remembered phase cannot
// be trusted (first load, reconnect after an unknown gap).
func DerivePhase(snap *api.GameSnapshot) Phase {
	switch {
	case snap.Status == StatusFinished:
		return PhaseEnded
	case snap.CurrentQuestionID != "" && snap.QuestionEndedAt != nil:
		return PhaseAnswerReveal
	case snap.CurrentQuestionID != "" && snap.QuestionStartedAt != nil:
		return PhaseQuestion
	case snap.CurrentQuestionID != "":
		return PhaseCountdown
	case snap.Status == StatusActive:
		return PhaseCountdown
	default:
		return PhaseWaiting
	}
}
