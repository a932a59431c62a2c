package syncq

import (
	"sort"

	"github.com/mind-engage/mindengage-checkpoint/internal/checksum"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// batch is the canonical form a device digests before upload: the session
// snapshot, responses ordered by question id and events in replay order.
type batch struct {
	Session   model.SessionSnapshot    `json:"session"`
	Responses []model.ResponseSnapshot `json:"responses"`
	Events    []model.Event            `json:"events"`
}

func canonical(sess model.SessionSnapshot, rs []model.ResponseSnapshot, evs []model.Event) batch {
	b := batch{
		Session:   sess,
		Responses: append([]model.ResponseSnapshot{}, rs...),
		Events:    append([]model.Event{}, evs...),
	}
	sort.SliceStable(b.Responses, func(i, j int) bool { return b.Responses[i].QuestionID < b.Responses[j].QuestionID })
	model.SortEvents(b.Events)
	return b
}

// Checksum digests a batch the way the queue verifies it. Devices and tests
// use it to sign uploads.
func Checksum(alg checksum.Algorithm, sess model.SessionSnapshot, rs []model.ResponseSnapshot, evs []model.Event) (string, error) {
	return alg.SumJSON(canonical(sess, rs, evs))
}

func verifyItem(alg checksum.Algorithm, it model.SyncItem) error {
	return alg.VerifyJSON(canonical(it.Session, it.Responses, it.Events), it.Checksum)
}
