package store

import "github.com/microaistudio/flowmatic-2r-full/internal/models"

// transitionMap lists the statuses each lifecycle action may start from.
// Recycled rows are waiting rows for every purpose except display grouping,
// so any action allowed from waiting is allowed from recycled.
var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting, models.StatusRecycled},
	"complete":  {models.StatusCalled},
	"recall":    {models.StatusCalled},
	"no_show":   {models.StatusCalled},
	"recycle":   {models.StatusCalled},
	"transfer":  {models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
