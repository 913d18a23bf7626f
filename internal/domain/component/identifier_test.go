package component

import "testing"

func mustID(t *testing.T, name, version string) Identifier {
	t.Helper()
	id, err := NewIdentifier(name, version)
	if err != nil {
		t.Fatalf("NewIdentifier(%s, %s): %v", name, version, err)
	}
	return id
}

func TestNewIdentifierRejectsInvalidVersion(t *testing.T) {
	if _, err := NewIdentifier("App", "not-a-version"); err == nil {
		t.Fatal("expected an error for a non-semver version")
	}
}

func TestIdentifierEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Identifier
		want bool
	}{
		{"same name and version", mustID(t, "App", "1.0.0"), mustID(t, "App", "1.0.0"), true},
		{"different version", mustID(t, "App", "1.0.0"), mustID(t, "App", "1.0.1"), false},
		{"different name", mustID(t, "App", "1.0.0"), mustID(t, "Other", "1.0.0"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIdentifierLessOrdersByNameThenVersion(t *testing.T) {
	a := mustID(t, "App", "1.0.0")
	b := mustID(t, "App", "2.0.0")
	if !a.Less(b) {
		t.Error("App@1.0.0 should be less than App@2.0.0")
	}
	if b.Less(a) {
		t.Error("App@2.0.0 should not be less than App@1.0.0")
	}

	x := mustID(t, "Alpha", "9.0.0")
	y := mustID(t, "Beta", "1.0.0")
	if !x.Less(y) {
		t.Error("Alpha should sort before Beta regardless of version")
	}
}

func TestIdentifierString(t *testing.T) {
	id := mustID(t, "App", "1.2.3")
	if got, want := id.String(), "App@1.2.3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNewDependencyParsesConstraint(t *testing.T) {
	dep, err := NewDependency("App", ">=1.0.0, <2.0.0", DependencyHard)
	if err != nil {
		t.Fatalf("NewDependency: %v", err)
	}
	if !dep.Range.Check(mustID(t, "App", "1.5.0").Version) {
		t.Error("constraint should accept 1.5.0")
	}
	if dep.Range.Check(mustID(t, "App", "2.0.0").Version) {
		t.Error("constraint should reject 2.0.0")
	}
}

func TestNewDependencyRejectsInvalidConstraint(t *testing.T) {
	if _, err := NewDependency("App", "not a constraint", DependencyHard); err == nil {
		t.Fatal("expected an error for a malformed constraint")
	}
}

func TestArtifactRefHasDigest(t *testing.T) {
	cases := []struct {
		name string
		ref  ArtifactRef
		want bool
	}{
		{"both set", ArtifactRef{Digest: "abc", Algorithm: "sha256"}, true},
		{"digest only", ArtifactRef{Digest: "abc"}, false},
		{"algorithm only", ArtifactRef{Algorithm: "sha256"}, false},
		{"neither", ArtifactRef{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ref.HasDigest(); got != tc.want {
				t.Errorf("HasDigest() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRecipeHardDependencies(t *testing.T) {
	hard := Dependency{Name: "A", Kind: DependencyHard}
	soft := Dependency{Name: "B", Kind: DependencySoft}
	r := Recipe{Dependencies: []Dependency{hard, soft}}

	got := r.HardDependencies()
	if len(got) != 1 || got[0].Name != "A" {
		t.Errorf("HardDependencies() = %v, want only A", got)
	}
}
