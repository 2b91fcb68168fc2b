package agent

import (
	"fmt"
	"strings"
)

func executionPrompt(objective string, context []string, taskName string) string {
	return fmt.Sprintf("You are an AI who performs one task based on the following objective: %s.\n"+
		"Take into account these previously completed tasks: %s\n"+
		"Your task: %s\n"+
		"Response:",
		objective, strings.Join(context, ", "), taskName)
}

func creationPrompt(objective, result, taskName string, pending []string) string {
	return fmt.Sprintf("You are a task creation AI that uses the result of an execution agent "+
		"to create new tasks with the following objective: %s, "+
		"The last completed task has the result: %s. "+
		"This result was based on this task description: %s. "+
		"These are incomplete tasks: %s. "+
		"Based on the result, create new tasks to be completed by the AI system "+
		"that do not overlap with incomplete tasks. "+
		"Return the tasks one per line, with no numbering and no other text.",
		objective, result, taskName, strings.Join(pending, ", "))
}

func prioritizationPrompt(objective string, names []string, startID int) string {
	return fmt.Sprintf("You are a task prioritization AI tasked with cleaning the formatting of "+
		"and reprioritizing the following tasks: %s. "+
		"Consider the ultimate objective of your team: %s. "+
		"Do not remove any tasks. Return the result as a numbered list, like:\n"+
		"#. First task\n"+
		"#. Second task\n"+
		"Start the task list with number %d.",
		strings.Join(names, ", "), objective, startID)
}
