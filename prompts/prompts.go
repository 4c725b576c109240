package prompts

import _ "embed"

// Embedded prompt files

//go:embed developer_system.txt
var developerSystem string

//go:embed title_generator.txt
var titleGenerator string

func DeveloperSystem() string { return developerSystem }
func TitleGenerator() string  { return titleGenerator }
