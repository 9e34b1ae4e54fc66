package feeds

import (
	"slices"

	"stories/models"
)

// Collapse keeps one representative story per author and orders the result
// for display: authors with an unviewed story first, then by recency.
//
// Within an author an unviewed story beats a viewed one, otherwise the more
// recent story wins; exact ties keep the story seen first. Authors that still
// tie in the final ordering keep their first-seen order.
func Collapse(stories []models.Story) []models.Story {
	out := make([]models.Story, 0, len(stories))
	index := make(map[models.UserID]int, len(stories))

	for _, story := range stories {
		i, ok := index[story.AuthorID]
		if !ok {
			index[story.AuthorID] = len(out)
			out = append(out, story)
			continue
		}
		if outranks(story, out[i]) {
			out[i] = story
		}
	}

	slices.SortStableFunc(out, func(a, b models.Story) int {
		if a.HasViewed != b.HasViewed {
			if a.HasViewed {
				return 1
			}
			return -1
		}
		switch {
		case a.RecencyKey > b.RecencyKey:
			return -1
		case a.RecencyKey < b.RecencyKey:
			return 1
		default:
			return 0
		}
	})

	return out
}

func outranks(candidate, current models.Story) bool {
	if candidate.HasViewed != current.HasViewed {
		return !candidate.HasViewed
	}
	return candidate.RecencyKey > current.RecencyKey
}

// join attaches author details to each story
func join(stories []models.Story, users *UserRegistry) []models.PresentedStory {
	presented := make([]models.PresentedStory, 0, len(stories))
	for _, story := range stories {
		p := models.PresentedStory{Story: story, UserName: UnknownUserName}
		if user, ok := users.Get(story.AuthorID); ok {
			p.UserName = user.DisplayName
			p.UserAvatar = user.AvatarURL
		}
		presented = append(presented, p)
	}
	return presented
}
