package character

const characterFields = `
    id
    name
    species
    status
    type
    gender
    origin { name }
    location { name }
    image`

// listCharactersQuery lists characters, optionally filtered by name. A null
// $name returns the server's default unfiltered page.
const listCharactersQuery = `
query Characters($name: String) {
  characters(filter: { name: $name }) {
    results {` + characterFields + `
    }
  }
}
`

// getCharacterQuery fetches a single character by id.
const getCharacterQuery = `
query Character($id: ID!) {
  character(id: $id) {` + characterFields + `
  }
}
`

const (
	opListCharacters = "list_characters"
	opGetCharacter   = "get_character"
)
