package directive

import "github.com/hanpama/entityplan/internal/plan"

var conditionalLocations = []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"}

type IfArguments struct {
	If bool `gql:"if,required" description:"Condition to test."`
}

// Include keeps a field only when its condition is true.
type Include struct {
	*Base[IfArguments]
}

func NewInclude() *Include {
	return &Include{NewBase("include",
		"Directs the executor to include this field or fragment only when the `if` argument is true.",
		IfArguments{}, conditionalLocations...)}
}

func (*Include) ProcessField(f plan.Field, args any) (plan.Field, error) {
	if args.(*IfArguments).If {
		return f, nil
	}
	return nil, nil
}

// Skip removes a field when its condition is true.
type Skip struct {
	*Base[IfArguments]
}

func NewSkip() *Skip {
	return &Skip{NewBase("skip",
		"Directs the executor to skip this field or fragment when the `if` argument is true.",
		IfArguments{}, conditionalLocations...)}
}

func (*Skip) ProcessField(f plan.Field, args any) (plan.Field, error) {
	if args.(*IfArguments).If {
		return nil, nil
	}
	return f, nil
}
