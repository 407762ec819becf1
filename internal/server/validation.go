package server

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxSlugLength = 160

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	registerOnce sync.Once
	registerErr  error
)

// registerValidators installs the custom binding rules on gin's validator.
func registerValidators() error {
	registerOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		registerErr = engine.RegisterValidation("slug", validateSlug)
	})
	return registerErr
}

func validateSlug(field validator.FieldLevel) bool {
	value := field.Field().String()
	return len(value) <= maxSlugLength && slugPattern.MatchString(value)
}

type channelURI struct {
	ChannelSlug string `uri:"channel_slug" binding:"required,slug"`
}

type communityURI struct {
	CommunityID string `uri:"community_id" binding:"required,max=190"`
}

type groupURI struct {
	GroupID string `uri:"group_id" binding:"required,max=190"`
}

type groupMemberURI struct {
	GroupID string `uri:"group_id" binding:"required,max=190"`
	UserID  string `uri:"user_id" binding:"required,max=190"`
}
