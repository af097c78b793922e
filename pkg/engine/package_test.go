package engine

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
)

func TestLoadPackage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		xml      string
		wantCode string
		wantMsg  string
	}{
		{
			name: "missing provider",
			xml: `<import>
  <A><instructions /></A>
  <data>x</data>
</import>`,
			wantCode: ErrCodeMissingProvider,
			wantMsg:  "A element is missing the provider attribute",
		},
		{
			name: "missing instructions",
			xml: `<import>
  <A provider="fake" />
  <data>x</data>
</import>`,
			wantCode: ErrCodeMissingInstructions,
			wantMsg:  "Import action does not contain an instructions element",
		},
		{
			name: "unknown dependency",
			xml: `<import>
  <A provider="fake" dependsOn="missing"><instructions /></A>
  <data>x</data>
</import>`,
			wantCode: ErrCodeUnknownDependency,
			wantMsg:  "Action dependency 'A::missing' is not defined",
		},
		{
			name: "cycle",
			xml: `<import>
  <A provider="fake" dependsOn="B"><instructions /></A>
  <B provider="fake" dependsOn="A"><instructions /></B>
  <data>x</data>
</import>`,
			wantCode: ErrCodeDependencyCycle,
			wantMsg:  "Action dependency cycle detected: A -> B -> A",
		},
		{
			name: "self dependency",
			xml: `<import>
  <A provider="fake" dependsOn="a"><instructions /></A>
  <data>x</data>
</import>`,
			wantCode: ErrCodeDependencyCycle,
			wantMsg:  "A -> A",
		},
		{
			name: "duplicate action",
			xml: `<import>
  <A provider="fake"><instructions /></A>
  <A provider="other"><instructions /></A>
  <data>x</data>
</import>`,
			wantCode: ErrCodeDuplicateAction,
			wantMsg:  "Action 'A' is declared more than once",
		},
		{
			name: "no data",
			xml: `<import>
  <A provider="fake"><instructions /></A>
</import>`,
			wantCode: ErrCodeNoDataSources,
			wantMsg:  "Import package does not contain any data elements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := LoadPackage(document.MustParseXML(tt.xml), nil)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if pkg != nil {
				t.Error("Expected no package on load error")
			}
			if !IsLoadError(err) {
				t.Errorf("Expected load error, got: %v", err)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, got)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected message containing %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestLoadPackage_Actions(t *testing.T) {
	pkg := loadTestPackage(t, `<import>
  <LoadCompanies provider="locations">
    <description>  Companies first  </description>
    <instructions />
  </LoadCompanies>
  <LoadSites provider=" locations " dependsOn=" LoadCompanies ,, " breakOnError="FALSE">
    <instructions />
  </LoadSites>
  <data id="sites">Company
Acme</data>
  <data id="extra">Company
Other</data>
</import>`)

	if pkg.Name != "import" {
		t.Errorf("Expected name import, got %s", pkg.Name)
	}
	if len(pkg.Actions()) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(pkg.Actions()))
	}
	if len(pkg.DataSources()) != 2 {
		t.Errorf("Expected 2 data sources, got %d", len(pkg.DataSources()))
	}

	companies := pkg.mustAction(t, "loadcompanies")
	if !companies.BreakOnError {
		t.Error("Expected breakOnError to default to true")
	}
	if companies.DescriptionText() != "Companies first" {
		t.Errorf("Unexpected description %q", companies.DescriptionText())
	}
	if companies.References != 1 {
		t.Errorf("Expected 1 reference, got %d", companies.References)
	}

	sites := pkg.mustAction(t, "LoadSites")
	if sites.BreakOnError {
		t.Error("Expected breakOnError FALSE to be false")
	}
	if sites.Provider != "locations" {
		t.Errorf("Expected trimmed provider, got %q", sites.Provider)
	}
	if diff := cmp.Diff([]string{"LoadCompanies"}, sites.Dependencies); diff != "" {
		t.Errorf("Unexpected dependencies (-want +got):\n%s", diff)
	}
	if sites.State() != ActionStatePending || sites.Executed() {
		t.Error("Expected a freshly loaded action to be pending")
	}

	var roots []string
	for _, a := range pkg.Roots() {
		roots = append(roots, a.Name)
	}
	if diff := cmp.Diff([]string{"LoadSites"}, roots); diff != "" {
		t.Errorf("Unexpected roots (-want +got):\n%s", diff)
	}
}

func TestLoadPackage_ImplicitAction(t *testing.T) {
	pkg := loadTestPackage(t, `<LoadThings provider="fake">
  <instructions />
  <data>x
1</data>
</LoadThings>`)

	if len(pkg.Actions()) != 1 {
		t.Fatalf("Expected a single implicit action, got %d", len(pkg.Actions()))
	}
	a := pkg.Actions()[0]
	if a.Name != "LoadThings" || a.Provider != "fake" {
		t.Errorf("Unexpected action %s/%s", a.Name, a.Provider)
	}
}

func TestLoadPackageWithData(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{
			name: "replaces existing payload",
			xml: `<import>
  <A provider="fake"><instructions /></A>
  <data source="somewhere.csv">old
row</data>
</import>`,
		},
		{
			name: "creates data element",
			xml: `<import>
  <A provider="fake"><instructions /></A>
</import>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := strings.NewReader("name,flag\n,\nA,TRUE\n\nB,NO\n")
			pkg, err := LoadPackageWithData(document.MustParseXML(tt.xml), data, nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			sources := pkg.DataSources()
			if len(sources) != 1 {
				t.Fatalf("Expected 1 data source, got %d", len(sources))
			}
			if !sources[0].IsInline() {
				t.Errorf("Expected injected data to be inline, got %q", sources[0].Location)
			}
			if sources[0].Payload != "name,flag\nA,TRUE\nB,NO" {
				t.Errorf("Unexpected payload %q", sources[0].Payload)
			}
		})
	}
}

func TestLoadExportPackage(t *testing.T) {
	tests := []struct {
		name     string
		xml      string
		wantCode string
	}{
		{"valid", `<export provider="csv"><instructions /></export>`, ""},
		{"missing provider", `<export><instructions /></export>`, ErrCodeMissingProvider},
		{"missing instructions", `<export provider="csv" />`, ErrCodeMissingInstructions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := LoadExportPackage(document.MustParseXML(tt.xml))
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				if pkg.Provider != "csv" || pkg.Instructions == nil {
					t.Errorf("Unexpected package %+v", pkg)
				}
				return
			}
			if ErrorCode(err) != tt.wantCode {
				t.Errorf("Expected %s, got: %v", tt.wantCode, err)
			}
		})
	}
}

func TestPackage_Summary(t *testing.T) {
	pkg := loadTestPackage(t, `<import>
  <Companies provider="locations"><instructions /></Companies>
  <Sites provider="locations" dependsOn="Companies" breakOnError="false">
    <description>Sites last</description>
    <instructions />
  </Sites>
  <data id="sites" source="sftp://files.example.com/sites.csv" />
  <data>x</data>
</import>`)

	want := PackageSummary{
		Name: "import",
		Actions: []ActionSummary{
			{Name: "Companies", Provider: "locations", BreakOnError: true, DependsOn: []string{}, References: 1},
			{Name: "Sites", Provider: "locations", Description: "Sites last", DependsOn: []string{"Companies"}},
		},
		DataSources: []DataSourceSummary{
			{ID: "sites", Content: datasource.ContentCSV, Source: "sftp://files.example.com/sites.csv"},
			{ID: "data[1]", Content: datasource.ContentCSV, Source: "inline"},
		},
	}
	if diff := cmp.Diff(want, pkg.Summary()); diff != "" {
		t.Errorf("Unexpected summary (-want +got):\n%s", diff)
	}
}
