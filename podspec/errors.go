package podspec

import "errors"

var (
	ErrTemplateLoad     = errors.New("failed to load pod template")
	ErrTemplateMalformed = errors.New("pod template missing required structure")
)
