package claim

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	claimDefinitionPathConstant = "#Claim"
	claimSchemaSourceConstant   = `
#Scalar: number | string | bool

#Count: int & >=0

#Claim: {
	filesCreated?:          #Count
	filesModified?:         #Count
	fileCount?:             #Count
	linesOfCode?:           #Count
	commitCount?:           #Count
	testsPassed?:           #Count
	testsFailed?:           #Count
	testsSkipped?:          #Count
	testsTotal?:            #Count
	packageCount?:          #Count
	functionCount?:         #Count
	typeCount?:             #Count
	documentationFiles?:    #Count
	documentationSections?: #Count
	testsPassing?:          bool
	compiles?:              bool
	files?: [...string]
	documentedFiles?: [...string]

	[string]: #Scalar | [...#Scalar]
}
`
	schemaCompileReasonTemplateConstant = "claim schema failed to compile: "
)

type schemaValidator struct {
	once       sync.Once
	context    *cue.Context
	definition cue.Value
	initError  error
}

var sharedSchemaValidator = &schemaValidator{}

func (validator *schemaValidator) initialize() {
	validator.context = cuecontext.New()
	schemaValue := validator.context.CompileString(claimSchemaSourceConstant)
	if schemaValue.Err() != nil {
		validator.initError = &evidence.ClaimSchemaError{Reason: schemaCompileReasonTemplateConstant + schemaValue.Err().Error()}
		return
	}
	validator.definition = schemaValue.LookupPath(cue.ParsePath(claimDefinitionPathConstant))
}

// validate unifies the claim with #Claim and requires a concrete result.
func (validator *schemaValidator) validate(claim evidence.Claim) error {
	validator.once.Do(validator.initialize)
	if validator.initError != nil {
		return validator.initError
	}

	unified := validator.definition.Unify(validator.context.Encode(map[string]any(claim)))
	validationError := unified.Validate(cue.Concrete(true))
	if validationError == nil {
		return nil
	}

	schemaError := &evidence.ClaimSchemaError{Reason: validationError.Error()}
	for _, detail := range cueerrors.Errors(validationError) {
		if path := detail.Path(); len(path) > 0 {
			schemaError.Field = strings.TrimPrefix(strings.Join(path, "."), claimDefinitionPathConstant+".")
			format, arguments := detail.Msg()
			schemaError.Reason = fmt.Sprintf(format, arguments...)
			return schemaError
		}
	}
	for _, fieldName := range claim.Fields() {
		singleField := validator.context.Encode(map[string]any{fieldName: claim[fieldName]})
		if fieldError := validator.definition.Unify(singleField).Validate(cue.Concrete(true)); fieldError != nil {
			schemaError.Field = fieldName
			break
		}
	}
	return schemaError
}
