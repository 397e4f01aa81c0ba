package resourceid

import (
	"fmt"
	"strconv"
)

// Typed constructors for the service schema. They do not panic; they return
// an ErrInvalidResource error when the assembled path does not parse, for
// example when a component is empty.

func ForProject(project string) (ID, error) {
	return Parse(Resources, "projects/"+project)
}

func ForBrain(project, brain string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s", project, brain))
}

func ForSession(project, brain, session string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s",
		project, brain, session))
}

func ForEpisode(project, brain, session, episode string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/episodes/%s",
		project, brain, session, episode))
}

func ForChunk(project, brain, session, episode string, chunk int) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/episodes/%s/chunks/%s",
		project, brain, session, episode, strconv.Itoa(chunk)))
}

func ForAssignment(project, brain, session, assignment string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/assignments/%s",
		project, brain, session, assignment))
}

func ForModel(project, brain, session, model string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/models/%s",
		project, brain, session, model))
}

func ForOnlineEvaluation(project, brain, session, model string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/online_evaluations/%s",
		project, brain, session, model))
}

func ForOfflineEvaluation(project, brain, session, evalID string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/sessions/%s/offline_evaluations/%s",
		project, brain, session, evalID))
}

func ForSnapshot(project, brain, snapshot string) (ID, error) {
	return Parse(Resources, fmt.Sprintf("projects/%s/brains/%s/snapshots/%s",
		project, brain, snapshot))
}
