package engine_test

import (
	"context"
	"fmt"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

// printImporter prints every target record it receives.
type printImporter struct{}

func (printImporter) Subjects() compiler.Subjects {
	vocab := record.NewVocabulary("Person", "FullName", "Team")
	return compiler.NewSubjects(vocab, "person")
}

func (printImporter) Import(ctx context.Context, req *engine.ImportRequest) error {
	return req.Run(ctx, engine.RowHandlerFunc(func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
		fmt.Printf("%s: %s (%s)\n", imp.Subject,
			rc.TargetRecord.GetString("FullName", ""),
			rc.TargetRecord.GetString("Team", ""))
		return nil
	}))
}

// Example_import loads a package with two dependent actions and runs it.
func Example_import() {
	root := document.MustParseXML(`<import>
  <Staff provider="people">
    <instructions>
      <import into="person">
        <let FullName="{first} {last}" default="" />
        <let Team="team" default="Unassigned" />
      </import>
    </instructions>
  </Staff>
  <Report provider="people" dependsOn="Staff">
    <instructions>
      <print>report ready</print>
    </instructions>
  </Report>
  <data>first,last,team
Ada,Lovelace,Engines
Alan,Turing</data>
</import>`)

	pkg, err := engine.LoadPackage(root, nil)
	if err != nil {
		fmt.Println(err)
		return
	}

	registry := engine.NewRegistry()
	registry.MustRegister("people", func() (interface{}, error) { return printImporter{}, nil })

	log := func(severity logsink.Severity, message string) {
		fmt.Println(message)
	}

	report, err := engine.NewExecutor(registry, engine.WithLog(log)).Import(context.Background(), pkg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(report.Status)

	// Output:
	// Import started
	// Staff started
	// person: Ada Lovelace (Engines)
	// person: Alan Turing (Unassigned)
	// Staff completed
	// Report started
	// report ready
	// Report completed
	// Import completed
	// succeeded
}

// Example_plan prints the execution levels of a package.
func Example_plan() {
	root := document.MustParseXML(`<import>
  <Companies provider="locations"><instructions /></Companies>
  <Regions provider="locations" dependsOn="Companies"><instructions /></Regions>
  <Sites provider="locations" dependsOn="Regions"><instructions /></Sites>
  <Labs provider="labresults" dependsOn="Companies"><instructions /></Labs>
  <data>x</data>
</import>`)

	pkg, err := engine.LoadPackage(root, nil)
	if err != nil {
		fmt.Println(err)
		return
	}

	for i, level := range pkg.Graph().Levels() {
		fmt.Println(i, level)
	}

	// Output:
	// 0 [Companies]
	// 1 [Regions Labs]
	// 2 [Sites]
}
