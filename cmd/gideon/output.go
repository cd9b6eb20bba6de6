package main

import "github.com/fatih/color"

var (
	headerText = color.New(color.Bold).SprintFunc()
	keyText    = color.New(color.FgCyan).SprintFunc()
	okText     = color.New(color.FgGreen).SprintFunc()
	warnText   = color.New(color.FgYellow).SprintFunc()
	errorText  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimText    = color.New(color.Faint).SprintFunc()
)
